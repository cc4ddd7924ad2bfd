package locator

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/forager/pkg/kv"
	"github.com/cuemby/forager/pkg/log"
	"github.com/cuemby/forager/pkg/metrics"
	"github.com/cuemby/forager/pkg/types"
)

const directoryBatchSize = 10

// DirLister lists one remote directory. *protocol.SFTPManager
// implements it.
type DirLister interface {
	ListDir(ctx context.Context, path string) ([]fs.FileInfo, error)
}

// DirectoryLocator lists a remote SFTP directory once, filters and
// orders the entries, and yields them in batches of ten. The discovered
// queue and the processed set survive restarts, so an interrupted run
// resumes from where it stopped instead of re-listing completed files.
type DirectoryLocator struct {
	SFTP DirLister

	// Host names the remote endpoint in yielded sftp:// URLs.
	Host string

	// RemoteDir is the directory to list. It also scopes persisted state.
	RemoteDir string

	// Pattern is a glob applied to entry names. Empty matches all.
	Pattern string

	// FileFilter, when set, further restricts entries by name.
	FileFilter func(name string) bool

	// Less orders the listing. Nil sorts by name ascending.
	Less func(a, b fs.FileInfo) bool

	state *stateStore

	mu          sync.Mutex
	queue       []string
	processed   map[string]bool
	initialized bool
}

// NewDirectoryLocator builds a directory locator persisting progress in
// store, scoped by the remote directory path.
func NewDirectoryLocator(store kv.Store, lister DirLister, host, remoteDir string) *DirectoryLocator {
	return &DirectoryLocator{
		SFTP:      lister,
		Host:      host,
		RemoteDir: remoteDir,
		state:     newStateStore(store, remoteDir),
	}
}

func (l *DirectoryLocator) Name() string { return "directory:" + l.RemoteDir }

func (l *DirectoryLocator) NextURLs(ctx context.Context, run *types.FetchRunContext) ([]types.RequestMeta, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized {
		if err := l.initialize(ctx); err != nil {
			return nil, err
		}
	}

	var batch []types.RequestMeta
	for len(batch) < directoryBatchSize && len(l.queue) > 0 {
		u := l.queue[0]
		l.queue = l.queue[1:]
		if l.processed[u] {
			continue
		}
		l.processed[u] = true
		batch = append(batch, types.RequestMeta{URL: u})
	}
	if len(batch) == 0 {
		return nil, nil
	}

	if err := l.state.saveQueue(ctx, l.queue); err != nil {
		return nil, err
	}
	if err := l.state.saveProcessed(ctx, l.processed); err != nil {
		return nil, err
	}
	metrics.LocatorURLsYielded.WithLabelValues(l.Name()).Add(float64(len(batch)))
	return batch, nil
}

// initialize restores persisted progress, or lists the remote directory
// when this scope has never been seen.
func (l *DirectoryLocator) initialize(ctx context.Context) error {
	processed, err := l.state.loadProcessed(ctx)
	if err != nil {
		return err
	}
	l.processed = processed

	queue, found, err := l.state.loadQueue(ctx)
	if err != nil {
		return err
	}
	if found {
		l.queue = queue
		l.initialized = true
		log.WithComponent("locator").Info().
			Str("locator", l.Name()).
			Int("queued", len(queue)).
			Int("processed", len(processed)).
			Msg("resumed directory queue from persisted state")
		return nil
	}

	entries, err := l.SFTP.ListDir(ctx, l.RemoteDir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", l.RemoteDir, err)
	}

	var selected []fs.FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !l.match(entry.Name()) {
			continue
		}
		selected = append(selected, entry)
	}
	if l.Less != nil {
		sort.SliceStable(selected, func(i, j int) bool { return l.Less(selected[i], selected[j]) })
	} else {
		sort.SliceStable(selected, func(i, j int) bool { return selected[i].Name() < selected[j].Name() })
	}

	l.queue = make([]string, 0, len(selected))
	for _, entry := range selected {
		l.queue = append(l.queue, l.entryURL(entry.Name()))
	}
	l.initialized = true

	log.WithComponent("locator").Info().
		Str("locator", l.Name()).
		Int("listed", len(entries)).
		Int("queued", len(l.queue)).
		Msg("listed remote directory")
	return l.state.saveQueue(ctx, l.queue)
}

func (l *DirectoryLocator) match(name string) bool {
	if l.Pattern != "" {
		ok, err := path.Match(l.Pattern, name)
		if err != nil || !ok {
			return false
		}
	}
	if l.FileFilter != nil && !l.FileFilter(name) {
		return false
	}
	return true
}

func (l *DirectoryLocator) entryURL(name string) string {
	dir := strings.TrimSuffix(l.RemoteDir, "/")
	return "sftp://" + l.Host + dir + "/" + name
}

// owns reports whether this locator yielded the URL. Completion
// callbacks fan out to every locator of a recipe; foreign URLs are
// ignored.
func (l *DirectoryLocator) owns(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processed[url]
}

func (l *DirectoryLocator) URLProcessed(ctx context.Context, req types.RequestMeta, refs []types.BundleRef, run *types.FetchRunContext) {
	if !l.owns(req.URL) {
		return
	}
	if err := l.state.recordResult(ctx, req.URL, refs); err != nil {
		log.WithComponent("locator").Error().Err(err).
			Str("url", req.URL).
			Msg("failed to persist result record")
	}
}

func (l *DirectoryLocator) URLError(ctx context.Context, req types.RequestMeta, errMsg string) {
	if !l.owns(req.URL) {
		return
	}
	if err := l.state.recordError(ctx, req.URL, errMsg); err != nil {
		log.WithComponent("locator").Error().Err(err).
			Str("url", req.URL).
			Msg("failed to persist error record")
	}
}
