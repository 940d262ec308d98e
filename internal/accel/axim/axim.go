// Package axim implements the AXI manager accelerator: the bridge that owns
// the pending-request queue, the per-request read/write data buffers, the
// OTP FIFO fed by the AES accelerator, and the callback path returning
// results to the LLC (spec.md §4.7, §6).
//
// Request-queue plumbing, bus decoding and the LLC's own submission
// discipline are explicitly out of scope for the firmware core (spec.md
// §1); this package is the external collaborator that the core drives
// through MMIO. Its queue is exposed directly (Submit/Responses) rather
// than modeled as bus traffic, matching the design note that callback-based
// LLC responses become a tagged Response variant delivered over a channel.
package axim

import (
	"fmt"

	"github.com/coldtrace/memshield/internal/log"
	"github.com/coldtrace/memshield/internal/mmio"
	"github.com/coldtrace/memshield/internal/proto"
	"github.com/coldtrace/memshield/internal/spm"
)

// Register offsets, relative to the device's bus base address (spec.md §6).
const (
	RegStatus  = 0x00
	RegReqAddr = 0x08
	RegReqID   = 0x10
	RegSPMAddr = 0x18
	RegCommand = 0x20
	RegBusy    = 0x28
)

// STATUS bits.
const (
	StatusPending = 1 << 0
	StatusIsWrite = 1 << 1
)

// COMMAND bits.
const (
	CmdWriteBack   = 1 << 0
	CmdCopy        = 1 << 1
	CmdEncrypt     = 1 << 2
	CmdDecrypt     = 1 << 3
	CmdReadReturn  = 1 << 4
	CmdWriteReturn = 1 << 5
)

// Request is one 64-byte read or write the LLC issues against the
// protected region (spec.md §3).
type Request struct {
	Addr  uint64
	ID    uint64
	Write bool
	Data  [proto.LineSize]byte // valid only when Write is true
}

// ResponseKind distinguishes the two shapes of LLC callback.
type ResponseKind int

const (
	ReadOK ResponseKind = iota
	WriteAck
)

// Response is the tagged variant replacing the source's separate
// read_cb/write_cb callbacks (spec.md §9 design note), carrying the
// request ID through to the LLC side.
type Response struct {
	Kind ResponseKind
	ID   uint64
	Data [proto.LineSize]byte // valid only when Kind == ReadOK
}

// OTP is one 128-bit one-time-pad block produced by the AES accelerator.
type OTP [16]byte

// AXIM is the AXI manager accelerator.
type AXIM struct {
	spm *spm.SPM
	log *log.Logger

	queue []Request
	otp   []OTP

	spmAddr    uint64
	wbuf       [proto.LineSize]byte
	wbufLoaded bool // whether wbuf already holds the front request's data
	rbuf       [proto.LineSize]byte

	responses chan Response
}

// New creates an AXI manager backed by scratch for COPY/WRITE_BACK
// transfers.
func New(scratch *spm.SPM) *AXIM {
	return &AXIM{
		spm:       scratch,
		log:       log.DefaultLogger(),
		responses: make(chan Response, 16),
	}
}

func (a *AXIM) WithLogger(l *log.Logger) {
	a.log = l
}

// Submit enqueues a request from the LLC. The write buffer is loaded from
// the request's own data once that request reaches the front of the queue
// and a command first touches it (see command), so queuing more than one
// write ahead of time never overwrites an earlier request's payload.
func (a *AXIM) Submit(req Request) {
	a.queue = append(a.queue, req)
}

// Responses returns the channel of completed request results.
func (a *AXIM) Responses() <-chan Response {
	return a.responses
}

// PushOTP enqueues four 128-bit OTP blocks produced by one AES accelerator
// run (spec.md §4.5). Consumption order matches production order.
func (a *AXIM) PushOTP(blocks [4]OTP) {
	a.otp = append(a.otp, blocks[:]...)
}

// ReadReg implements mmio.Device.
func (a *AXIM) ReadReg(offset uint64) mmio.Reg {
	switch offset {
	case RegStatus:
		if len(a.queue) == 0 {
			return 0
		}

		status := mmio.Reg(StatusPending)
		if a.queue[0].Write {
			status |= StatusIsWrite
		}

		return status
	case RegReqAddr:
		if len(a.queue) == 0 {
			return 0
		}

		return a.queue[0].Addr
	case RegReqID:
		if len(a.queue) == 0 {
			return 0
		}

		return a.queue[0].ID
	case RegSPMAddr:
		return a.spmAddr
	case RegCommand:
		return 0
	case RegBusy:
		return 0
	default:
		panic(fmt.Sprintf("axim: bad register offset %#x", offset))
	}
}

// WriteReg implements mmio.Device.
func (a *AXIM) WriteReg(offset uint64, value mmio.Reg) {
	switch offset {
	case RegSPMAddr:
		a.spmAddr = value
	case RegCommand:
		a.command(value)
	case RegStatus, RegReqAddr, RegReqID, RegBusy:
		panic(fmt.Sprintf("axim: register %#x is read-only", offset))
	default:
		panic(fmt.Sprintf("axim: bad register offset %#x", offset))
	}
}

// command applies the bits of mask in a fixed order -- WriteBack, Copy,
// Encrypt, Decrypt, ReadReturn, WriteReturn -- regardless of which bits are
// set together. Callers that need Encrypt to take effect before WriteBack
// (spec.md §4.5's write path) must issue them as separate WriteReg calls.
func (a *AXIM) command(mask mmio.Reg) {
	if len(a.queue) == 0 {
		panic("axim: command issued with no pending request")
	}

	req := &a.queue[0]

	if !a.wbufLoaded && req.Write {
		a.wbuf = req.Data
		a.wbufLoaded = true
	}

	if mask&CmdWriteBack != 0 {
		a.spm.WriteBlock(a.slot(), a.wbuf)
	}

	if mask&CmdCopy != 0 {
		a.rbuf = a.spm.ReadBlock(a.slot())
	}

	if mask&CmdEncrypt != 0 {
		a.xorOTP(&a.wbuf)
	}

	if mask&CmdDecrypt != 0 {
		a.xorOTP(&a.rbuf)
	}

	if mask&CmdReadReturn != 0 {
		a.responses <- Response{Kind: ReadOK, ID: req.ID, Data: a.rbuf}
		a.queue = a.queue[1:]
		a.wbufLoaded = false
	}

	if mask&CmdWriteReturn != 0 {
		a.responses <- Response{Kind: WriteAck, ID: req.ID}
		a.queue = a.queue[1:]
		a.wbufLoaded = false
	}
}

func (a *AXIM) slot() spm.Slot {
	return spm.Slot(a.spmAddr / proto.LineSize)
}

func (a *AXIM) xorOTP(buf *[proto.LineSize]byte) {
	if len(a.otp) < 4 {
		panic("axim: otp fifo underrun")
	}

	for i := 0; i < 4; i++ {
		block := a.otp[i]
		for j := 0; j < 16; j++ {
			buf[i*16+j] ^= block[j]
		}
	}

	a.otp = a.otp[4:]
}
