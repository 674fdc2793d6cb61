// Package stick implements the StickSink collaborator (spec.md §6): it
// frames axis/button events over a serial link into the simulator's
// second virtual controller, the same way Valkyrie/internal/actuators
// frames MAVLink messages over go.bug.st/serial — a lighter, purpose-
// built frame format instead of full MAVLink v2, since there is no
// flight-controller telemetry to decode on the way back.
package stick

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/asgard/fovea/internal/stick"
)

const frameMagic = 0xF5

// Config configures the serial-framed virtual-controller link.
type Config struct {
	Port     string
	BaudRate int
}

// Sender implements stick.Sink over a serial port, framing each event as
// {magic, sequence, axis, value(int16 LE), checksum} — the same shape as
// the teacher's MAVLinkProtocol.sendMessage, minus the MAVLink header
// fields this protocol has no use for.
type Sender struct {
	cfg    Config
	logger *logrus.Logger

	mu       sync.Mutex
	port     serial.Port
	sequence uint8
}

// NewSender builds a Sender with its serial port closed; Open dials it.
// Until then Send logs and drops each event.
func NewSender(cfg Config, logger *logrus.Logger) *Sender {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sender{cfg: cfg, logger: logger}
}

// Open dials the serial port. Safe to call once before Send is used.
func (s *Sender) Open() error {
	mode := &serial.Mode{
		BaudRate: s.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(s.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("stick: open serial port %s: %w", s.cfg.Port, err)
	}
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	return nil
}

// Close releases the serial port.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// Send implements stick.Sink.
func (s *Sender) Send(ctx context.Context, axis stick.Axis, value int) error {
	s.mu.Lock()
	port := s.port
	seq := s.sequence
	s.sequence++
	s.mu.Unlock()

	frame := encodeFrame(seq, axis, value)
	if port == nil {
		s.logger.WithFields(logrus.Fields{"axis": axis, "value": value}).Debug("stick sink not connected, dropping event")
		return nil
	}
	if _, err := port.Write(frame); err != nil {
		return fmt.Errorf("stick: write: %w", err)
	}
	return nil
}

func encodeFrame(seq uint8, axis stick.Axis, value int) []byte {
	frame := make([]byte, 6)
	frame[0] = frameMagic
	frame[1] = seq
	frame[2] = byte(axis)
	binary.LittleEndian.PutUint16(frame[3:5], uint16(int16(value)))
	frame[5] = checksum(frame[:5])
	return frame
}

func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum ^= v
	}
	return sum
}
