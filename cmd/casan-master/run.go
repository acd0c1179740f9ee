package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/junbin-yang/casan-go/pkg/casan/engine"
	"github.com/junbin-yang/casan-go/pkg/casan/httpgw"
	"github.com/junbin-yang/casan-go/pkg/casan/l2"
	"github.com/junbin-yang/casan-go/pkg/utils/config"
	log "github.com/junbin-yang/casan-go/pkg/utils/logger"
)

const shutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the master and serve HTTP until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		conf.SetupLogger()
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, conf)
	},
}

// openNetwork 按配置打开一个链路
func openNetwork(n config.Network) (l2.Transport, error) {
	switch n.Type {
	case config.NET_ETHERNET:
		return l2.OpenEthernet(n.Iface, n.MTU, uint16(n.Ethertype))
	case config.NET_802154:
		addr, err := l2.ParseXBeeAddr(n.Addr)
		if err != nil {
			return nil, err
		}
		pan, err := l2.ParseXBeeAddr(n.PanID)
		if err != nil {
			return nil, err
		}
		return l2.OpenXBee(n.Iface, l2.XBeeConfig{
			Addr:     addr,
			PanID:    pan,
			Channel:  n.Channel,
			MTU:      n.MTU,
			MinFrame: n.MinFrame,
			MaxFrame: n.MaxFrame,
			AT:       n.AT,
		})
	case config.NET_UDP:
		return l2.OpenUDP(n.Listen, n.Group, n.Iface, n.MTU)
	}
	return nil, errors.Errorf("unknown network type %q", n.Type)
}

func engineConfig(conf *config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.Timing = engine.Timing{
		AckTimeout:    conf.Coap.AckTimeoutDuration(),
		MaxRetransmit: conf.Coap.MaxRetransmit,
	}
	ec.FirstHello = conf.Timers.FirstHelloDuration()
	ec.HelloInterval = conf.Timers.HelloDuration()
	return ec
}

// serve 启动引擎和HTTP网关，ctx结束后按相反顺序关闭
func serve(ctx context.Context, conf *config.Config) (err error) {
	e := engine.New(engineConfig(conf))
	for _, n := range conf.Networks {
		t, oerr := openNetwork(n)
		if oerr != nil {
			e.Stop()
			return errors.Wrapf(oerr, "network %s", n.Name)
		}
		e.AddNetwork(n.Name, t)
		log.Infof("[MASTER] network %s: %s", n.Name, t)
	}
	for _, s := range conf.Slaves {
		if err := e.AddSlave(s.ID, s.TTLDuration(), s.MTU); err != nil {
			e.Stop()
			return errors.Wrapf(err, "slave %d", s.ID)
		}
	}
	if err := e.Start(ctx); err != nil {
		e.Stop()
		return err
	}
	defer func() { err = multierr.Append(err, e.Stop()) }()

	opts := httpgw.DefaultOptions()
	opts.Namespaces = httpgw.Namespaces{
		Admin:     conf.Namespaces.Admin,
		Casan:     conf.Namespaces.Casan,
		WellKnown: conf.Namespaces.WellKnown,
	}
	opts.CacheClean = conf.Timers.CacheCleanDuration()
	opts.ConfText = conf.String
	srv := httpgw.NewServer(e, nil, opts)
	addrs := make([]string, 0, len(conf.HTTP))
	for _, h := range conf.HTTP {
		addrs = append(addrs, h.Listen)
	}
	if err := srv.Start(addrs); err != nil {
		return errors.Wrap(err, "http")
	}
	log.Infof("[MASTER] %s %s started, hello id %d", config.APPNAME, config.VERSION, e.HelloID())

	<-ctx.Done()
	log.Info("[MASTER] shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
