package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"custos/internal/logger"
)

// postureMark is the content written into a lockfile so an operator
// inspecting the filesystem can see who flipped the switch and why.
type postureMark struct {
	OperatorID string    `json:"operator_id"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

// Posture tracks the process-wide armed/halted state through lockfiles on
// disk. The files survive a restart: a crashed process comes back in the
// posture it went down in, and a halt placed by an operator outlives any
// in-memory state.
type Posture struct {
	mu        sync.Mutex
	armedFile string
	haltFile  string
}

func NewPosture(armedFile, haltFile string) *Posture {
	return &Posture{armedFile: armedFile, haltFile: haltFile}
}

// Arm places the armed lockfile. Arming while halted is refused.
func (p *Posture) Arm(operatorID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fileExists(p.haltFile) {
		return fmt.Errorf("system is halted, disarm the halt first")
	}
	return writeMark(p.armedFile, operatorID, reason)
}

// Disarm removes the armed lockfile. Disarming an already-disarmed system
// is a no-op.
func (p *Posture) Disarm() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return removeMark(p.armedFile)
}

// Halt places the halt lockfile and drops the armed one. Halt always wins.
func (p *Posture) Halt(operatorID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := writeMark(p.haltFile, operatorID, reason); err != nil {
		return err
	}
	if err := removeMark(p.armedFile); err != nil {
		logger.Warnf("posture: halt placed but disarm failed: %v", err)
	}
	return nil
}

// Resume lifts the halt. The system stays disarmed until re-armed.
func (p *Posture) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return removeMark(p.haltFile)
}

func (p *Posture) IsArmed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fileExists(p.armedFile) && !fileExists(p.haltFile)
}

func (p *Posture) IsHalted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fileExists(p.haltFile)
}

// State reports the posture as a snapshot map for projections and receipts.
func (p *Posture) State() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]any{
		"armed":  fileExists(p.armedFile) && !fileExists(p.haltFile),
		"halted": fileExists(p.haltFile),
	}
}

func writeMark(path, operatorID, reason string) error {
	b, err := json.Marshal(postureMark{OperatorID: operatorID, Reason: reason, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func removeMark(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
