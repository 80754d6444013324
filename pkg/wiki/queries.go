package wiki

const pageFields = `
	id
	path
	title
	description
	content
	isPublished
	isPrivate
	locale
	createdAt
	updatedAt
	tags { tag }
`

const listPagesQuery = `
query {
	pages {
		list(orderBy: PATH) {
			id
			path
			updatedAt
		}
	}
}`

const singlePageQuery = `
query ($id: Int!) {
	pages {
		single(id: $id) {` + pageFields + `}
	}
}`

const pageByPathQuery = `
query ($path: String!, $locale: String!) {
	pages {
		singleByPath(path: $path, locale: $locale) {` + pageFields + `}
	}
}`

const responseResultFields = `
	responseResult {
		succeeded
		errorCode
		slug
		message
	}
`

const createPageMutation = `
mutation ($content: String!, $description: String!, $editor: String!,
		$isPublished: Boolean!, $isPrivate: Boolean!, $locale: String!,
		$path: String!, $tags: [String]!, $title: String!) {
	pages {
		create(content: $content, description: $description, editor: $editor,
				isPublished: $isPublished, isPrivate: $isPrivate, locale: $locale,
				path: $path, tags: $tags, title: $title) {` + responseResultFields + `
			page { id }
		}
	}
}`

const updatePageMutation = `
mutation ($id: Int!, $content: String, $description: String, $editor: String,
		$isPublished: Boolean, $isPrivate: Boolean, $locale: String,
		$path: String, $tags: [String], $title: String) {
	pages {
		update(id: $id, content: $content, description: $description, editor: $editor,
				isPublished: $isPublished, isPrivate: $isPrivate, locale: $locale,
				path: $path, tags: $tags, title: $title) {` + responseResultFields + `
		}
	}
}`

const deletePageMutation = `
mutation ($id: Int!) {
	pages {
		delete(id: $id) {` + responseResultFields + `}
	}
}`

const serverVersionQuery = `
query {
	system {
		info {
			currentVersion
		}
	}
}`
