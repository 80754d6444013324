/*
The sync package holds the data model shared by wikisync's synchronization
engine. It has no knowledge of how files are watched or
how the wiki is reached.

There are two sides to every document:
1) The local side -- a markdown file under the sync root, e.g.
   `<root>/guides/setup.md`.
2) The remote side -- a wiki page, e.g. the page at path `guides/setup`.

Both sides are identified by the same canonical document path
(`guides/setup`). Changes detected on either side become Items, which are
queued, deduplicated by (origin, key), and then checked against the state
store.

The state store records, per document path, the fingerprints both sides had
the last time they agreed. Comparing a side's current fingerprint with the
recorded one tells us whether that side changed since the last sync, which
is what the conflict detector relies on. Entries are never removed
automatically, so a delete followed by a resurrection is still recognized.
*/
package sync
