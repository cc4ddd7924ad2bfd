/*
Package locator produces fetch work. A locator is a resumable state
machine over a key-value store: it discovers URLs (by listing a remote
directory, walking a paginated API, or replaying a fixed list), yields
them in small batches, and persists enough position to resume after a
restart without refetching completed work.

Shared state layout, namespaced by a per-locator scope:

	processed_urls[:<scope>]     URLs already yielded (7d TTL)
	file_queue:<scope>           remaining discovered work (7d TTL)
	state:<scope>                date / cursor / narrowing (7d TTL)
	results:<scope>:<hash(url)>  per-URL outcome (30d TTL)
	errors:<scope>:<hash(url)>   per-URL failure record (24h TTL)

Locators:

  - DirectoryLocator lists an SFTP directory once, filters by glob and
    predicate, and drains the persisted queue in batches of ten.
  - FileListLocator yields a fixed URL list minus the processed set.
  - SingleAPILocator yields configured API endpoints with shared
    headers and per-URL outcome records.
  - PaginatedAPILocator walks a date-partitioned cursor API: full pages
    continue the cursor chain, short pages advance the narrowing, a
    finished narrowing advances the date and resets the cursor to "*".
    The gap-fill variant walks the same range backward.
  - RetryLocator replays persisted error records under a retry cap.

Locator methods are not required to be thread-safe toward each other;
the fetcher serializes polling and completion callbacks through one
mutex. Each locator still guards its own fields so completion
callbacks from worker goroutines stay safe.
*/
package locator
