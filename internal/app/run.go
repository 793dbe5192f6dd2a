// Package app wires a client or a relay host from its peer directory.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"

	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/config"
	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/relay"
	"github.com/petervdpas/goopcall/internal/relayserver"
	"github.com/petervdpas/goopcall/internal/viewer"
)

var log = logging.Logger("app")

type Options struct {
	PeerDir string
	CfgPath string
	Cfg     config.Config
}

// Run runs one calling client until ctx is cancelled.
func Run(ctx context.Context, opt Options) error {
	logBuf := viewer.NewLogBuffer(800)
	detach := logBuf.Capture()
	defer detach()

	cfg := opt.Cfg
	if err := cfg.Log.ApplyLogLevels(); err != nil {
		return err
	}
	logBanner(opt.PeerDir, opt.CfgPath)

	// ── Relay
	store, err := openStore(ctx, peerStoreConfig(opt.PeerDir, cfg.Relay))
	if err != nil {
		return err
	}
	defer store.Close()

	bridge := relay.NewBridge(store, relay.WithCollection(cfg.Relay.Collection))
	defer bridge.Close()

	// A shared SQLite file has no relay host sweeping it, so its clients do.
	if cfg.Relay.Backend == config.BackendSQLite && cfg.Server.SweepSchedule != "" {
		j := relay.NewJanitor(store, cfg.Server.SweepSchedule, relay.WithCollection(cfg.Relay.Collection))
		if err := j.Start(); err != nil {
			return fmt.Errorf("start janitor: %w", err)
		}
		defer j.Stop()
	}

	// ── Media
	capturer, err := newCapturer(cfg.Media)
	if err != nil {
		return fmt.Errorf("prepare capture: %w", err)
	}
	api, err := media.NewAPIFor(capturer, iceTimeouts(cfg.Media))
	if err != nil {
		return fmt.Errorf("build webrtc api: %w", err)
	}
	var ice atomic.Pointer[[]webrtc.ICEServer]
	storeICE := func(servers []config.ICEServer) {
		converted := iceServers(servers)
		ice.Store(&converted)
	}
	storeICE(cfg.Media.ICEServers)
	transport := media.NewPionFactory(api, func() []webrtc.ICEServer { return *ice.Load() })

	// ── Call machine
	machine, err := call.New(call.Config{
		Bridge:       bridge,
		Media:        call.AdapterFactory(capturer, transport),
		Self:         party(cfg.Identity),
		ResetAfter:   time.Duration(cfg.Call.ResetAfterMs) * time.Millisecond,
		CleanupDelay: time.Duration(cfg.Call.CleanupDelayMs) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	defer machine.Close()

	if cfg.Identity.ID == "" {
		log.Warnw("no identity configured; calling disabled until identity.id is set", "config", opt.CfgPath)
	}
	if !machine.IsMediaSupported() {
		log.Warnw("no capture devices found; set media.capture to synthetic on headless hosts")
	}

	// ── Config hot reload
	identity := cfg.Identity
	if err := config.Watch(ctx, opt.CfgPath, func(next config.Config) {
		if err := next.Log.ApplyLogLevels(); err != nil {
			log.Warnw("log levels not applied", "err", err)
		}
		storeICE(next.Media.ICEServers)
		if next.Identity == identity {
			return
		}
		if next.Identity.ID == "" {
			log.Warnw("identity removed from config; restart to disable calling")
			return
		}
		if err := machine.SetIdentity(party(next.Identity)); err != nil {
			log.Warnw("identity change not applied", "err", err)
			return
		}
		identity = next.Identity
	}); err != nil {
		log.Warnw("config hot reload unavailable", "err", err)
	}

	// ── Viewer
	if cfg.Viewer.HTTPAddr != "" {
		addr, url, _ := NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
		go func() {
			err := viewer.Start(ctx, addr, viewer.Viewer{
				Call:  machine,
				Logs:  logBuf,
				Debug: cfg.Viewer.Debug,
			})
			if err != nil {
				log.Errorw("viewer stopped", "addr", addr, "err", err)
			}
		}()
		log.Infow("call viewer", "url", url)
	}

	<-ctx.Done()
	log.Infow("shutting down")
	return nil
}

// RunRelay hosts the shared relay store until ctx is cancelled.
func RunRelay(ctx context.Context, opt Options) error {
	cfg := opt.Cfg
	if err := cfg.Log.ApplyLogLevels(); err != nil {
		return err
	}
	logBanner(opt.PeerDir, opt.CfgPath)

	store, err := openStore(ctx, serverStoreConfig(opt.PeerDir, cfg))
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Server.SweepSchedule != "" {
		j := relay.NewJanitor(store, cfg.Server.SweepSchedule, relay.WithCollection(cfg.Relay.Collection))
		if err := j.Start(); err != nil {
			return fmt.Errorf("start janitor: %w", err)
		}
		defer j.Stop()
	}

	if err := config.Watch(ctx, opt.CfgPath, func(next config.Config) {
		if err := next.Log.ApplyLogLevels(); err != nil {
			log.Warnw("log levels not applied", "err", err)
		}
	}); err != nil {
		log.Warnw("config hot reload unavailable", "err", err)
	}

	addr := net.JoinHostPort(cfg.Server.Bind, strconv.Itoa(cfg.Server.Port))
	err = relayserver.New(store).ListenAndServe(ctx, addr)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newCapturer(mc config.Media) (media.Capturer, error) {
	if mc.Capture == config.CaptureSynthetic {
		return media.SyntheticCapturer{}, nil
	}
	return media.NewDeviceCapturer(mc.VideoMaxWidth, mc.VideoMaxHeight)
}

func iceTimeouts(mc config.Media) media.ICETimeouts {
	return media.ICETimeouts{
		Disconnected: time.Duration(mc.ICEDisconnectedSec) * time.Second,
		Failed:       time.Duration(mc.ICEFailedSec) * time.Second,
		KeepAlive:    time.Duration(mc.ICEKeepaliveSec) * time.Second,
	}
}

func iceServers(servers []config.ICEServer) []webrtc.ICEServer {
	if len(servers) == 0 {
		return media.DefaultICEServers
	}
	return lo.Map(servers, func(s config.ICEServer, _ int) webrtc.ICEServer {
		out := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			out.Credential = s.Credential
		}
		return out
	})
}

func party(id config.Identity) relay.Party {
	name := id.DisplayName
	if name == "" {
		name = id.ID
	}
	return relay.Party{UID: id.ID, Name: name, Email: id.Email, Avatar: id.AvatarURL}
}
