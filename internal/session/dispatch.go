package session

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleproxy/internal/frame"
	"github.com/srg/bleproxy/internal/message"
)

func (s *Session) dispatch(f frame.Frame) error {
	if s.State() == StateAwaitingHello {
		if f.Opcode != message.OpHelloRequest {
			return &frame.ProtocolError{
				Violation: frame.UnexpectedOpcode,
				Msg:       fmt.Sprintf("%s before hello", message.OpcodeName(f.Opcode)),
			}
		}
		return s.handleHello(f)
	}

	switch f.Opcode {
	case message.OpPingRequest:
		return s.Enqueue(message.Empty(message.OpPingResponse))

	case message.OpDeviceInfoRequest:
		resp, err := s.opts.Identity.DeviceInfo.Frame()
		if err != nil {
			s.logger.WithError(err).Warn("Device info cannot be encoded")
			return nil
		}
		return s.Enqueue(resp)

	case message.OpConnectRequest:
		// No password is configured, so every connect is accepted.
		return s.Enqueue(message.Empty(message.OpConnectResponse))

	case message.OpListEntitiesRequest:
		return s.Enqueue(message.Empty(message.OpListEntitiesDone))

	case message.OpConnectionsFreeRequest:
		resp, err := message.ConnectionsFree{}.Frame()
		if err != nil {
			return err
		}
		return s.Enqueue(resp)

	case message.OpDisconnectRequest:
		if err := s.Enqueue(message.Empty(message.OpDisconnectResponse)); err != nil {
			return err
		}
		s.Close(ErrPeerDisconnect)
		return nil

	case message.OpPingResponse, message.OpDisconnectResponse:
		s.logger.WithField("opcode", message.OpcodeName(f.Opcode)).Debug("Ignoring response frame")

	case message.OpHelloRequest:
		s.logger.Warn("Ignoring repeated hello on established session")

	default:
		s.logger.WithFields(logrus.Fields{
			"opcode": f.Opcode.String(),
			"length": f.Len(),
		}).Warn("Ignoring unsupported message")
	}
	return nil
}

func (s *Session) handleHello(f frame.Frame) error {
	var req message.HelloRequest
	if err := req.UnmarshalBinary(f.Payload); err != nil {
		s.logger.WithError(err).Debug("Hello payload not understood, treating as version 0.0")
		req = message.HelloRequest{}
	}

	if s.State() != StateAwaitingHello {
		return nil
	}
	resp, err := message.NewHelloResponse(s.opts.Identity.ServerInfo).Frame()
	if err != nil {
		return err
	}
	raw, err := frame.Encode(resp.Opcode, resp.Payload)
	if err != nil {
		return err
	}
	if err := s.write(raw); err != nil {
		return fmt.Errorf("hello response: %w", err)
	}

	_ = s.conn.SetReadDeadline(time.Time{})
	if !s.state.CompareAndSwap(uint32(StateAwaitingHello), uint32(StateEstablished)) {
		return nil
	}
	s.opts.Registrar.Register(s)

	s.logger.WithFields(logrus.Fields{
		"client":     req.ClientInfo,
		"client_api": fmt.Sprintf("%d.%d", req.Major, req.Minor),
		"server_api": fmt.Sprintf("%d.%d", message.APIVersionMajor, message.APIVersionMinor),
	}).Info("Handshake complete")
	return nil
}
