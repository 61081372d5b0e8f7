package state

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/homesense/sensord/helpers"
	"github.com/homesense/sensord/log2"
	"github.com/homesense/sensord/tele"
)

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	Log          *log2.Log
	Tele         *tele.Client
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error state.NewContext() log=nil")
	}
	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, ContextKey, g) //nolint:staticcheck
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg

	if g.Config.Tele.Enable {
		teleLog := g.Log
		if !g.Config.Tele.LogDebug {
			teleLog = g.Log.Clone(log2.LInfo)
		}
		client, err := tele.New(tele.Options{
			BrokerURL:      g.Config.Tele.BrokerURL,
			ClientID:       g.Config.Tele.ClientID,
			Username:       g.Config.Tele.Username,
			Password:       g.Config.Tele.Password,
			StatusTopic:    g.Config.Tele.StatusTopic,
			KeepaliveSec:   uint16(g.Config.Tele.KeepaliveSec),
			NetworkTimeout: helpers.IntSecondDefault(g.Config.Tele.NetworkTimeoutSec, tele.DefaultNetworkTimeout),
			ReconnectDelay: helpers.IntMillisecondDefault(g.Config.Tele.ReconnectDelayMs, tele.DefaultReconnectDelay),
			Log:            teleLog,
		})
		if err != nil {
			return errors.Annotate(err, "tele init")
		}
		g.Tele = client
	} else {
		g.Log.Debugf("tele disabled")
	}

	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	if err := g.Init(ctx, cfg); err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err == nil {
		return
	}
	if len(args) > 0 {
		msg := args[0].(string)
		args = args[1:]
		err = errors.Annotatef(err, msg, args...)
	}
	g.Log.Errorf(errors.ErrorStack(err))
}

func (g *Global) Stop() {
	g.Alive.Stop()
	if g.Tele != nil {
		_ = g.Tele.Close()
	}
}
