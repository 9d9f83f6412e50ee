package events

import (
	"net/netip"

	"Go2NetGuard/internal/config"
	"Go2NetGuard/internal/firewall"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// Controller is the part of the firewall manager exposed to operators.
type Controller interface {
	Unblock(addr netip.Addr) error
	Reconcile() (firewall.ReconcileResult, error)
}

// ControlServer answers operator commands on the control subject. Its
// handlers run on NATS goroutines, concurrently with the control loop.
type ControlServer struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	ctrl    Controller
}

// NewControlServer connects to NATS for serving ctrl.
func NewControlServer(cfg config.NATSConfig, ctrl Controller) (*ControlServer, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &ControlServer{nc: nc, subject: cfg.ControlSubject, ctrl: ctrl}, nil
}

// Start subscribes to the control subject.
func (s *ControlServer) Start() error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		data, err := EncodeReply(Handle(s.ctrl, msg.Data))
		if err != nil {
			log.WithError(err).Error("Failed to encode control reply")
			return
		}
		if err := msg.Respond(data); err != nil {
			log.WithError(err).Warn("Failed to send control reply")
		}
	})
	if err != nil {
		return err
	}
	s.sub = sub
	log.Printf("Listening for control commands on '%s'", s.subject)
	return nil
}

// Handle decodes and executes one command.
func Handle(ctrl Controller, data []byte) Reply {
	cmd, err := DecodeCommand(data)
	if err != nil {
		return Reply{Error: err.Error()}
	}

	switch cmd.Action {
	case ActionUnblock:
		addr := netip.MustParseAddr(cmd.Address)
		if err := ctrl.Unblock(addr); err != nil {
			return Reply{Error: err.Error()}
		}
		log.Printf("Operator unblocked %s", addr)
		return Reply{OK: true}
	default:
		res, err := ctrl.Reconcile()
		if err != nil {
			return Reply{Error: err.Error()}
		}
		return Reply{OK: true, Removed: addrStrings(res.Removed), Installed: addrStrings(res.Installed)}
	}
}

// Close unsubscribes and closes the NATS connection.
func (s *ControlServer) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		log.Println("NATS connection closed.")
	}
}
