package main

import (
	"flag"
	"io/ioutil"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quantive/grid/balancer"
	"github.com/quantive/grid/cluster"
	"github.com/quantive/grid/common/stats"
	"github.com/quantive/grid/config"
	"github.com/quantive/grid/failover"
	"github.com/quantive/grid/runner"
	"github.com/quantive/grid/scheduler"
	"github.com/quantive/grid/service"
)

var (
	configFile   = flag.String("config", "", "Path to the JSON config document, empty means all defaults.")
	logLevelName = flag.String("log_level", "info", "Minimum log level.")
)

func main() {
	flag.Parse()
	level, err := log.ParseLevel(*logLevelName)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(level)
	log.AddHook(hostnameHook{})

	var text []byte
	if *configFile != "" {
		if text, err = ioutil.ReadFile(*configFile); err != nil {
			log.Fatal("Error reading config: ", err)
		}
	}
	conf, err := config.Parse(text)
	if err != nil {
		log.Fatal("Error parsing config: ", err)
	}

	stat := stats.NewStatsReceiver()
	registry := cluster.NewRegistry()
	history := balancer.NewHistory()
	strategy, err := conf.Balancer.Create(history)
	if err != nil {
		log.Fatal(err)
	}
	bal := balancer.New(strategy, history)
	probe := runner.NewHTTPProbe(5 * time.Second)
	fo := failover.NewManager(registry, probe, conf.Failover.Cooldown(), stat)
	local := runner.NewLocalRunner(conf.Scheduler.LocalWorkers)
	sched := scheduler.NewTaskScheduler(
		registry, bal, fo, runner.NewHTTPExecutor(), local, conf.Scheduler.Create(), stat)

	svc := service.New(registry, sched, bal, fo, probe, conf.Service.Create(), stat)
	if conf.Discovery.Enabled() {
		svc.SetDiscovery(conf.Discovery.Create(registry, stat))
	}
	if conf.Security.Enabled() {
		tokens, err := conf.Security.Create()
		if err != nil {
			log.Fatal("Error creating token manager: ", err)
		}
		svc.SetTokenManager(tokens)
	}

	svc.Start()
	log.WithFields(log.Fields{"strategy": bal.StrategyName()}).Info("gridserver started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	svc.Stop()
}

// hostnameHook stamps every entry so multi-host logs stay attributable.
type hostnameHook struct{}

func (hostnameHook) Levels() []log.Level { return log.AllLevels }

func (hostnameHook) Fire(entry *log.Entry) error {
	if host, err := os.Hostname(); err == nil {
		entry.Data["host"] = host
	}
	return nil
}
