/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package main

import (
	"flag"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ccp-project/goccp/pkg/ccplog"
	"github.com/ccp-project/goccp/pkg/ipc"
	"github.com/ccp-project/goccp/pkg/ipc/chardevipc"
	"github.com/ccp-project/goccp/pkg/ipc/netlinkipc"
	"github.com/ccp-project/goccp/pkg/ipc/unixipc"
	"github.com/ccp-project/goccp/pkg/metrics"
	"github.com/ccp-project/goccp/pkg/run"
)

var log = ccplog.For("ccpl")

func main() {
	ipcKind := flag.String("ipc", "unix", "transport the datapath speaks: unix, netlink, or char")
	bindTo := flag.String("name", "ccp", "socket name under /tmp/ccp (unix transport only)")
	metricsAddr := flag.String("metrics-addr", ":9897", "address to serve Prometheus metrics on")
	flag.Parse()

	transport, err := openTransport(*ipcKind, *bindTo)
	if err != nil {
		logrus.Fatalf("ccpl: %v", err)
	}

	continuing := &atomic.Bool{}
	continuing.Store(true)
	m := metrics.NewCollector("goccp", nil)
	backend := ipc.NewBackend(transport, continuing, make([]byte, 1<<16), m)

	rt := run.New(backend, continuing, m, &noopAlg{})

	registry := prometheus.NewRegistry()
	if err := registry.Register(rt.Metrics()); err != nil {
		logrus.Fatalf("ccpl: register metrics: %v", err)
	}
	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	log.WithField("ipc", *ipcKind).Info("starting control plane")
	if err := rt.Run(); err != nil {
		logrus.Fatalf("ccpl: %v", err)
	}
}

func openTransport(kind, bindTo string) (ipc.Transport, error) {
	switch kind {
	case "unix":
		return unixipc.New(bindTo, ipc.Blocking)
	case "netlink":
		return netlinkipc.New(0, ipc.Blocking)
	case "char":
		return chardevipc.New(ipc.Blocking)
	default:
		return nil, fmt.Errorf("unknown --ipc value %q (want unix, netlink, or char)", kind)
	}
}

// noopAlg is a placeholder CongAlg: ccpl is a harness binary for wiring
// a real algorithm's DatapathPrograms/NewFlow into, not an algorithm
// implementation itself.
type noopAlg struct{}

func (noopAlg) Name() string                       { return "noop" }
func (noopAlg) DatapathPrograms() map[string]string { return nil }
func (noopAlg) NewFlow(dp *run.Datapath, info run.DatapathInfo) run.Flow { return noopFlow{} }

type noopFlow struct{}

func (noopFlow) OnReport(sockID uint32, r run.Report) {}
func (noopFlow) Close()                               {}
