// Package publish uploads the approved image folder to a retailer DAM
// over FTP. The remote tree mirrors the local brand layout.
package publish

import (
	"context"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shelfline/curator-cli/internal/config"
)

// uploader is the slice of the FTP connection Publish needs.
type uploader interface {
	MakeDir(path string) error
	Stor(path string, r io.Reader) error
	Quit() error
}

type dialFunc func(ctx context.Context, addr, user, password string, timeout time.Duration) (uploader, error)

// Publisher uploads approved images to a configured FTP endpoint.
type Publisher struct {
	cfg     config.PublishConfig
	timeout time.Duration
	dial    dialFunc
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithDial overrides how the FTP connection is established.
func WithDial(dial dialFunc) Option {
	return func(p *Publisher) { p.dial = dial }
}

// New creates a Publisher from publish config.
func New(cfg config.PublishConfig, opts ...Option) *Publisher {
	p := &Publisher{
		cfg:     cfg,
		timeout: 30 * time.Second,
		dial:    ftpDial,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Report summarizes one publish run.
type Report struct {
	Uploaded int      `json:"uploaded"`
	Files    []string `json:"files,omitempty"`
}

// Publish uploads every image under root/approved to the remote directory,
// one brand folder per subdirectory. An empty approved folder publishes
// nothing and is not an error.
func (p *Publisher) Publish(ctx context.Context, root string) (*Report, error) {
	if p.cfg.Addr == "" {
		return nil, eris.New("publish: no ftp address configured")
	}

	files, err := collectImages(filepath.Join(root, "approved"))
	if err != nil {
		return nil, err
	}
	report := &Report{}
	if len(files) == 0 {
		zap.L().Info("publish: nothing to upload")
		return report, nil
	}

	conn, err := p.dial(ctx, normalizeAddr(p.cfg.Addr), p.cfg.User, p.cfg.Password, p.timeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := conn.Quit(); err != nil {
			zap.L().Warn("publish: ftp quit failed", zap.Error(err))
		}
	}()

	made := map[string]bool{}
	for _, f := range files {
		if ctx.Err() != nil {
			return report, eris.Wrap(ctx.Err(), "publish: cancelled")
		}

		remote := remotePath(p.cfg.RemoteDir, f.rel)
		dir := path.Dir(remote)
		if !made[dir] {
			// Existing directories make MakeDir fail; that is fine.
			_ = conn.MakeDir(dir)
			made[dir] = true
		}

		if err := p.upload(conn, f.abs, remote); err != nil {
			return report, err
		}
		report.Uploaded++
		report.Files = append(report.Files, remote)
	}

	zap.L().Info("publish: upload complete",
		zap.String("addr", p.cfg.Addr),
		zap.Int("uploaded", report.Uploaded),
	)
	return report, nil
}

func (p *Publisher) upload(conn uploader, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return eris.Wrapf(err, "publish: open %s", local)
	}
	defer f.Close()

	if err := conn.Stor(remote, f); err != nil {
		return eris.Wrapf(err, "publish: store %s", remote)
	}
	return nil
}

type localFile struct {
	abs string
	rel string
}

// collectImages lists the jpg files under dir, sorted for stable upload
// order. A missing dir yields an empty list.
func collectImages(dir string) ([]localFile, error) {
	var files []localFile
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".jpg") {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, localFile{abs: p, rel: rel})
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "publish: scan approved folder")
	}
	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}

// remotePath joins the remote base dir with the slash-form relative path.
func remotePath(remoteDir, rel string) string {
	return path.Join(remoteDir, filepath.ToSlash(rel))
}

// normalizeAddr appends the default FTP port when none is given.
func normalizeAddr(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return net.JoinHostPort(addr, "21")
	}
	return addr
}

// ftpDial connects and logs in. Empty credentials fall back to anonymous.
func ftpDial(ctx context.Context, addr, user, password string, timeout time.Duration) (uploader, error) {
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "publish: ftp dial")
	}

	if user == "" {
		user, password = "anonymous", "anonymous@"
	}
	if err := conn.Login(user, password); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "publish: ftp login")
	}
	return conn, nil
}
