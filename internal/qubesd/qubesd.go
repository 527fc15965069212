// Package qubesd provides qubesd 进程的主入口和初始化逻辑：按
// config.Config 把 Application/Runtime/Dispatcher/Server/httpview 这几
//块装配成一个 grace.Grace 可管理的整体。
package qubesd

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/jimmicro/grace"
	"github.com/rs/zerolog"

	"github.com/qubesd/qubesd/internal/qubesd/admin"
	"github.com/qubesd/qubesd/internal/qubesd/admin/httpview"
	"github.com/qubesd/qubesd/internal/qubesd/app"
	"github.com/qubesd/qubesd/internal/qubesd/config"
	"github.com/qubesd/qubesd/internal/qubesd/domain"
	"github.com/qubesd/qubesd/internal/qubesd/ext"
	"github.com/qubesd/qubesd/internal/qubesd/storage"
	"github.com/qubesd/qubesd/internal/qubesd/storage/filepool"
	"github.com/qubesd/qubesd/pkg/hypervisor"
	"github.com/qubesd/qubesd/pkg/qemuimg"
	"github.com/qubesd/qubesd/pkg/qrexecpolicy"
	"github.com/qubesd/qubesd/pkg/qubesdb"
)

// Server owns every long-running component a running qubesd process
// manages: the in-memory Application (loaded from qubes.xml at startup;
// Server does not save it back, so changes made through the Admin API
// stay in memory only), the Admin socket, and the optional debug HTTP view.
type Server struct {
	cfg *config.Config

	application *app.Application
	admin       *admin.Server
	debug       *httpview.View
}

// New loads cfg's store, wires every collaborator Runtime/Dispatcher
// need, and returns a Server ready to Run. Mirrors the teacher's
// jvp.New: one function, explicit step-numbered construction, fail fast
// on any collaborator error.
func New(cfg *config.Config) (*Server, error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger

	// 0. Load the persisted store.
	application := app.New(cfg.StorePath, cfg.Offline)
	application.RegisterDriverFactory("file", fileDriverFactory(cfg))
	if err := application.Load(context.Background()); err != nil {
		return nil, err
	}
	logger.Info().Str("store_path", cfg.StorePath).Msg("qubes store loaded")

	// 1. Build the lifecycle Runtime's collaborators.
	hv, err := newHypervisor(cfg)
	if err != nil {
		return nil, err
	}
	runtime := &domain.Runtime{
		Col:      application.Domains,
		HV:       hv,
		Mem:      domain.NoopBalancer{},
		XML:      hypervisor.NewGenerator(cfg.StorePath),
		DB:       qubesdb.NewMemoryClient(),
		QrexecTO: domain.DefaultQrexecReadyTimeout,
	}

	// 2. Install built-in extensions.
	registry := ext.NewRegistry()
	ext.InstallServices(registry, application.Domains)
	policy, err := loadPolicy(cfg)
	if err != nil {
		return nil, err
	}
	permission := ext.NewAdminPermission(policy)
	permission.Install(registry)

	// 3. Wire the Admin API.
	bus := admin.NewEventBus()
	core := &admin.Core{App: application, RT: runtime, Bus: bus}
	dispatcher := admin.NewCoreDispatcher(core, permission)
	adminServer := &admin.Server{
		SocketPath: cfg.AdminSocketPath,
		Dispatcher: dispatcher,
		Bus:        bus,
		ResolvePeer: func(uid uint32) string {
			return resolvePeerDomain(application, uid)
		},
	}

	server := &Server{cfg: cfg, application: application, admin: adminServer}
	if cfg.DebugAddr != "" {
		server.debug = httpview.New(application, cfg.DebugAddr)
	}
	return server, nil
}

// Run starts every component under a grace.Shepherd, the same pattern
// the teacher's jvp.Server.Run uses for its single api.API service.
func (s *Server) Run(ctx context.Context) error {
	services := []grace.Grace{s.admin}
	if s.debug != nil {
		services = append(services, s.debug)
	}

	shepherd := grace.NewShepherd(
		services,
		grace.WithTimeout(30*time.Second),
		grace.WithLogger(&zerologLogger{}),
	)

	shepherd.Start(ctx)
	return nil
}

// Shutdown stops the Admin socket (and debug view, if running).
func (s *Server) Shutdown(ctx context.Context) error {
	if s.debug != nil {
		if err := s.debug.Shutdown(ctx); err != nil {
			return err
		}
	}
	return s.admin.Shutdown(ctx)
}

// Name 实现 grace.Grace 接口。
func (s *Server) Name() string { return "qubesd" }

// zerologLogger 实现 grace.Logger 接口。
type zerologLogger struct{}

func (l *zerologLogger) Info(msg string, args ...interface{}) {
	logger := zerolog.DefaultContextLogger.Info()
	if len(args) > 0 {
		logger.Msgf(msg, args...)
	} else {
		logger.Msg(msg)
	}
}

func (l *zerologLogger) Error(msg string, args ...interface{}) {
	logger := zerolog.DefaultContextLogger.Error()
	if len(args) > 0 {
		logger.Msgf(msg, args...)
	} else {
		logger.Msg(msg)
	}
}

// fileDriverFactory closes over cfg so qubes.xml's <pool driver="file">
// entries resolve to a filepool.Driver rooted under the pool's own
// config dir, using a real qemu-img binary unless TestMode substitutes
// qemuimg's in-memory double.
func fileDriverFactory(cfg *config.Config) app.DriverFactory {
	return func(poolConfig map[string]string) (storage.Driver, error) {
		dir := poolConfig["dir"]
		if dir == "" {
			dir = cfg.StorePath
		}
		var img qemuimg.QemuImgClient
		if cfg.TestMode {
			img = qemuimg.NewMockClient()
		} else {
			img = qemuimg.New("qemu-img")
		}
		return filepool.New(dir, img), nil
	}
}

// newHypervisor picks the real libvirt-backed Adapter, or the in-memory
// DomainMock for offline/test-mode runs where no hypervisor connection
// should be attempted.
func newHypervisor(cfg *config.Config) (domain.Hypervisor, error) {
	if cfg.Offline || cfg.TestMode {
		return hypervisor.NewDomainMock(), nil
	}
	client, err := hypervisor.New()
	if err != nil {
		return nil, err
	}
	return hypervisor.NewAdapter(client), nil
}

// loadPolicy reads every *.policy file under cfg.PolicyDir; a missing
// directory is not an error (fresh installs have none yet), it just
// means the admin-permission extension denies everything.
func loadPolicy(cfg *config.Config) (*qrexecpolicy.PolicySet, error) {
	entries, err := os.ReadDir(cfg.PolicyDir)
	if err != nil {
		if os.IsNotExist(err) {
			return qrexecpolicy.NewPolicySet(nil), nil
		}
		return nil, err
	}
	var rules []qrexecpolicy.Rule
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".policy") {
			continue
		}
		f, err := os.Open(cfg.PolicyDir + "/" + entry.Name())
		if err != nil {
			return nil, err
		}
		fileRules, err := qrexecpolicy.Parse(f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		rules = append(rules, fileRules...)
	}
	return qrexecpolicy.NewPolicySet(rules), nil
}

// resolvePeerDomain maps a connecting process's UID to the Admin source
// name it acts as. The real qubesd only ever accepts Admin connections
// from dom0 processes (per-VM qrexec calls reach it through a different
// path entirely, via qrexec-daemon forwarding); there is no UID-to-Domain
// table to consult here, so every peer is attributed to dom0.
func resolvePeerDomain(_ *app.Application, _ uint32) string {
	return "dom0"
}
