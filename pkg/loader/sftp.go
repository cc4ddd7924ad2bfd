package loader

import (
	"bufio"
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"

	"github.com/cuemby/forager/pkg/log"
	"github.com/cuemby/forager/pkg/protocol"
	"github.com/cuemby/forager/pkg/storage"
	"github.com/cuemby/forager/pkg/types"
)

const sftpChunkSize = 8 * 1024

// SFTPLoader resolves an sftp:// URL through the SFTP manager. A file
// is streamed into one bundle in 8 KiB chunks; a directory is listed,
// filtered by FilenamePattern, and each matching file loaded
// recursively.
type SFTPLoader struct {
	Manager *protocol.SFTPManager

	// FilenamePattern is a glob applied to directory entries. Empty
	// matches everything.
	FilenamePattern string
}

// remotePath extracts the path component of an sftp URL.
func remotePath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid sftp url %s: %w", rawURL, err)
	}
	if u.Path == "" {
		return "", fmt.Errorf("sftp url %s has no path", rawURL)
	}
	return u.Path, nil
}

func (l *SFTPLoader) Load(ctx context.Context, req types.RequestMeta, sink storage.Sink, run *types.FetchRunContext) ([]types.BundleRef, error) {
	p, err := remotePath(req.URL)
	if err != nil {
		return nil, err
	}

	info, err := l.Manager.Stat(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", p, err)
	}

	if info.IsDir() {
		return l.loadDir(ctx, req, p, sink, run)
	}
	ref, err := l.loadFile(ctx, req, p, sink)
	if err != nil {
		return nil, err
	}
	return []types.BundleRef{*ref}, nil
}

func (l *SFTPLoader) loadDir(ctx context.Context, req types.RequestMeta, dir string, sink storage.Sink, run *types.FetchRunContext) ([]types.BundleRef, error) {
	entries, err := l.Manager.ListDir(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var refs []types.BundleRef
	for _, entry := range entries {
		if l.FilenamePattern != "" {
			ok, err := path.Match(l.FilenamePattern, entry.Name())
			if err != nil {
				return nil, fmt.Errorf("bad filename pattern %q: %w", l.FilenamePattern, err)
			}
			if !ok {
				continue
			}
		}

		child := types.RequestMeta{
			URL:     req.URL + "/" + entry.Name(),
			Headers: req.Headers,
			Depth:   req.Depth + 1,
			Referer: req.URL,
		}
		childRefs, err := l.Load(ctx, child, sink, run)
		if err != nil {
			log.WithComponent("loader").Error().Err(err).
				Str("url", child.URL).
				Msg("failed to load directory entry")
			continue
		}
		refs = append(refs, childRefs...)
	}
	return refs, nil
}

func (l *SFTPLoader) loadFile(ctx context.Context, req types.RequestMeta, p string, sink storage.Sink) (*types.BundleRef, error) {
	f, err := l.Manager.Open(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer f.Close()

	ref := types.NewBundleRef(req.URL)
	ref.Meta["remote_path"] = p

	bctx, err := sink.OpenBundle(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer bctx.Close(ctx)

	contentType := mime.TypeByExtension(path.Ext(p))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	reader := bufio.NewReaderSize(f, sftpChunkSize)
	if err := bctx.WriteResource(ctx, req.URL, contentType, 0, reader); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", req.URL, err)
	}
	if err := bctx.Close(ctx); err != nil {
		return nil, err
	}
	return ref, nil
}
