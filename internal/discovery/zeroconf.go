package discovery

import (
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

// ZeroconfAnnouncer answers mDNS queries for the record until it is withdrawn.
type ZeroconfAnnouncer struct {
	// Interfaces restricts the announcement; nil means all multicast interfaces.
	Interfaces []net.Interface
	Logger     *logrus.Logger

	// register is zeroconf.Register; replaced in tests
	register func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
}

func NewZeroconfAnnouncer(logger *logrus.Logger) *ZeroconfAnnouncer {
	if logger == nil {
		logger = logrus.New()
	}
	return &ZeroconfAnnouncer{Logger: logger, register: zeroconf.Register}
}

func (a *ZeroconfAnnouncer) Announce(r Record) (Withdrawer, error) {
	register := a.register
	if register == nil {
		register = zeroconf.Register
	}
	server, err := register(r.Instance, r.ServiceType, r.Domain, r.Port, r.TXT(), a.Interfaces)
	if err != nil {
		return nil, fmt.Errorf("mDNS register %s: %w", r.Instance, err)
	}

	a.logger().WithFields(logrus.Fields{
		"instance": r.Instance,
		"service":  r.ServiceType,
		"port":     r.Port,
	}).Info("mDNS service registered")

	return &zeroconfWithdrawer{server: server, record: r, logger: a.logger()}, nil
}

func (a *ZeroconfAnnouncer) logger() *logrus.Logger {
	if a.Logger == nil {
		a.Logger = logrus.New()
	}
	return a.Logger
}

type zeroconfWithdrawer struct {
	once   sync.Once
	server *zeroconf.Server
	record Record
	logger *logrus.Logger
}

func (w *zeroconfWithdrawer) Withdraw() {
	w.once.Do(func() {
		if w.server != nil {
			w.server.Shutdown()
		}
		w.logger.WithField("instance", w.record.Instance).Info("mDNS service withdrawn")
	})
}
