package main

import (
	"context"
	"os"
	"os/signal"
	"strings"

	"github.com/davecgh/go-spew/spew"
	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/config"
	"github.com/samsamfire/goethercat/pkg/driver/virtual"
	"github.com/samsamfire/goethercat/pkg/master"
	"github.com/samsamfire/goethercat/pkg/network"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const ENV_PREFIX = "ECMASTER"

func settings() *viper.Viper {
	flags := pflag.NewFlagSet("ecmaster", pflag.ExitOnError)
	flags.StringP("description", "d", "network.ini", "network description file")
	flags.StringP("log-level", "l", "info", "log level e.g. debug,info,warn")
	flags.Duration("cycle", 0, "cycle period, defaults to the one of the description")
	flags.Duration("duration", 0, "stop after this duration, runs until interrupted when 0")
	flags.Bool("scan", false, "dump the slaves found on the ring and exit")
	flags.Bool("simulate", false, "run on a virtual ring built from the description")
	flags.String("config", "", "settings file, any format supported by viper")
	flags.Parse(os.Args[1:])

	v := viper.New()
	v.SetEnvPrefix(ENV_PREFIX)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		log.Fatal(err)
	}
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			log.Fatalf("reading settings %v : %v", file, err)
		}
	}
	return v
}

// Dump what the master sees on the ring
func scan(drv ethercat.Driver, index ethercat.MasterIndex) error {
	m, err := master.Open(drv, index, ethercat.ReadOnly)
	if err != nil {
		return err
	}
	defer m.Close()
	info, err := m.Info()
	if err != nil {
		return err
	}
	spew.Dump(info)
	for position := uint32(0); position < info.SlaveCount; position++ {
		slave, err := m.SlaveInfo(ethercat.SlavePosition(position))
		if err != nil {
			return err
		}
		spew.Dump(slave)
	}
	return nil
}

func main() {
	v := settings()
	level, err := log.ParseLevel(v.GetString("log-level"))
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(level)

	desc, err := config.Load(v.GetString("description"))
	if err != nil {
		log.Fatal(err)
	}
	if v.GetBool("simulate") {
		desc.Master.Driver = "virtual"
		virtual.Register(desc.Master.Device, simulate(desc))
	}
	drv, err := ethercat.NewDriver(desc.Master.Driver, desc.Master.Device)
	if err != nil {
		log.Fatal(err)
	}
	if v.GetBool("scan") {
		if err := scan(drv, desc.Master.Index); err != nil {
			log.Fatal(err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if duration := v.GetDuration("duration"); duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	net := network.New(drv, desc)
	if err := net.Setup(); err != nil {
		log.Fatal(err)
	}
	defer net.Close()

	domains := desc.Domains()
	err = net.Run(ctx, v.GetDuration("cycle"), func(c *network.Cycle) error {
		if c.Err != nil {
			log.Warnf("cycle %v : %v", c.Iteration, c.Err)
			return nil
		}
		if c.Iteration%1000 != 0 {
			return nil
		}
		for _, name := range domains {
			state, err := c.State(name)
			if err != nil {
				return err
			}
			log.Debugf("cycle %v : domain %v %v (wc %v)", c.Iteration, name, state.WcState, state.WorkingCounter)
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		log.Error(err)
	}
	state, err := net.Master().State()
	if err == nil {
		log.Infof("final master state :\n%v", spew.Sdump(state))
	}
}
