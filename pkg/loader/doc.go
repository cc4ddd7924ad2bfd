/*
Package loader turns one request into bundles. HTTPLoader issues a GET
through the HTTP manager and writes the response body as a single
primary resource, capturing status, content type, and length into
bundle meta (and, for paginated APIs, the JSON body itself so locators
can read cursors). SFTPLoader resolves remote paths, expanding
directories by glob and streaming files in 8 KiB chunks.

Every successful primary fetch opens exactly one bundle; all resources
written under it share its BID. The bundle context is closed on every
exit path.
*/
package loader
