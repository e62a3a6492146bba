// Package proxy implements the proxy domain: staged file transfer with
// rolling-hash delta sync, and raw socket tunneling over the daemon
// connection's binary channel.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"devlink/daemon/internal/daemon"
	"devlink/daemon/internal/metrics"
	"devlink/daemon/internal/platform/ratelimiter"
	"devlink/daemon/internal/proto"
)

// Domain is the proxy domain.
type Domain struct {
	*daemon.DomainCore
	limiter *ratelimiter.MapLimiter

	stagingOnce sync.Once
	stagingDir  string
	stagingErr  error

	mu         sync.Mutex
	sockets    map[string]net.Conn
	nextSocket int
	disposed   bool
}

// Options configure the domain.
type Options struct {
	// StagingDir overrides the default process-scoped staging directory.
	// The directory persists across daemon sessions and is never cleaned
	// up here: staged artifacts are deliberately reused.
	StagingDir string

	// Limiter, when non-nil, caps per-tunnel byte throughput.
	Limiter *ratelimiter.MapLimiter
}

func New(conn proto.Connection, log *slog.Logger, opts Options) *Domain {
	d := &Domain{
		DomainCore: daemon.NewDomainCore("proxy", conn, log),
		limiter:    opts.Limiter,
		stagingDir: opts.StagingDir,
		sockets:    make(map[string]net.Conn),
	}
	d.RegisterBinary("writeTempFile", d.writeTempFile)
	d.Register("calculateFileHashes", d.calculateFileHashes)
	d.RegisterBinary("updateFile", d.updateFile)
	d.Register("connect", d.connect)
	d.Register("disconnect", d.disconnect)
	d.RegisterBinary("write", d.write)
	return d
}

// staging lazily creates the staging directory on first use.
func (d *Domain) staging() (string, error) {
	d.stagingOnce.Do(func() {
		if d.stagingDir == "" {
			d.stagingDir = filepath.Join(os.TempDir(), "devlink-staging")
		}
		d.stagingErr = os.MkdirAll(d.stagingDir, 0o755)
	})
	return d.stagingDir, d.stagingErr
}

// stagedPath maps a client-supplied relative path into the staging
// directory, rejecting anything that would escape it.
func (d *Domain) stagedPath(path string) (string, error) {
	if path == "" || !filepath.IsLocal(path) {
		return "", fmt.Errorf("invalid staged file path: %q", path)
	}
	dir, err := d.staging()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.FromSlash(path)), nil
}

func (d *Domain) writeTempFile(ctx context.Context, args daemon.Args, binary io.Reader) (any, error) {
	path, err := args.String("path")
	if err != nil {
		return nil, err
	}
	target, err := d.stagedPath(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(target)
	if err != nil {
		return nil, err
	}
	if binary != nil {
		if _, err := io.Copy(f, binary); err != nil {
			f.Close()
			return nil, err
		}
	}
	return nil, f.Close()
}

func (d *Domain) calculateFileHashes(ctx context.Context, args daemon.Args) (any, error) {
	path, err := args.String("path")
	if err != nil {
		return nil, err
	}
	target, err := d.stagedPath(path)
	if err != nil {
		return nil, err
	}
	hashes, err := fileHashes(target)
	if err != nil {
		return nil, err
	}
	if hashes == nil {
		// A nil result tells the caller to fall back to a full upload.
		return nil, nil
	}
	return hashes, nil
}

func (d *Domain) updateFile(ctx context.Context, args daemon.Args, binary io.Reader) (any, error) {
	path, err := args.String("path")
	if err != nil {
		return nil, err
	}
	rawDelta, err := args.List("delta")
	if err != nil {
		return nil, err
	}
	target, err := d.stagedPath(path)
	if err != nil {
		return nil, err
	}
	blocks, err := parseDelta(rawDelta)
	if err != nil {
		return nil, err
	}
	ok, err := applyDelta(target, blocks, binary)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return true, nil
}

func (d *Domain) connect(ctx context.Context, args daemon.Args) (any, error) {
	port, err := args.Int("port")
	if err != nil {
		return nil, err
	}

	sock, err := dialLoopback(port)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		sock.Close()
		return nil, errors.New("proxy domain is disposed")
	}
	d.nextSocket++
	id := strconv.Itoa(d.nextSocket) + ":" + strconv.Itoa(port)
	d.sockets[id] = sock
	d.mu.Unlock()
	metrics.ActiveTunnels.Inc()

	go d.forward(id, sock)
	return id, nil
}

// dialLoopback tries IPv4 loopback first, then IPv6.
func dialLoopback(port int) (net.Conn, error) {
	sock, err4 := net.Dial("tcp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err4 == nil {
		return sock, nil
	}
	sock, err6 := net.Dial("tcp6", net.JoinHostPort("::1", strconv.Itoa(port)))
	if err6 == nil {
		return sock, nil
	}
	return nil, fmt.Errorf("cannot connect to port %d: %v; %v", port, err4, err6)
}

// forward relays inbound socket bytes to the client as binary events named
// by the tunnel id. Read errors are logged, not fatal; closure emits a
// dedicated disconnect event.
func (d *Domain) forward(id string, sock net.Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := sock.Read(buf)
		if n > 0 {
			if lerr := d.limiter.Wait(context.Background(), id, n); lerr != nil {
				break
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			d.SendEvent("proxy.data."+id, nil, bytes.NewReader(chunk))
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				d.Log().Error("tunnel read failed", "id", id, "err", err)
			}
			break
		}
	}
	d.forget(id)
	d.SendEvent("proxy.disconnected."+id, nil, nil)
}

func (d *Domain) disconnect(ctx context.Context, args daemon.Args) (any, error) {
	id, err := args.String("id")
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	sock, ok := d.sockets[id]
	d.mu.Unlock()
	if !ok {
		return false, nil
	}
	sock.Close()
	return true, nil
}

func (d *Domain) write(ctx context.Context, args daemon.Args, binary io.Reader) (any, error) {
	id, err := args.String("id")
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	sock, ok := d.sockets[id]
	d.mu.Unlock()
	if !ok {
		return false, nil
	}
	if binary != nil {
		// Relay the full bounded stream and let the socket drain before
		// acknowledging.
		buf := make([]byte, 32*1024)
		for {
			n, rerr := binary.Read(buf)
			if n > 0 {
				if err := d.limiter.Wait(ctx, id, n); err != nil {
					return nil, err
				}
				if _, werr := sock.Write(buf[:n]); werr != nil {
					return nil, werr
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return nil, rerr
			}
		}
	}
	return true, nil
}

func (d *Domain) forget(id string) {
	d.mu.Lock()
	sock, ok := d.sockets[id]
	delete(d.sockets, id)
	d.mu.Unlock()
	if ok {
		sock.Close()
		metrics.ActiveTunnels.Dec()
		d.limiter.Forget(id)
	}
}

// Dispose force-closes every open tunnel. The staging directory is
// deliberately left intact.
func (d *Domain) Dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.disposed = true
	sockets := d.sockets
	d.sockets = make(map[string]net.Conn)
	d.mu.Unlock()

	for _, sock := range sockets {
		sock.Close()
		metrics.ActiveTunnels.Dec()
	}
}
