package modbusctrl

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	mbserver "github.com/tbrandon/mbserver"

	"github.com/adaptiveheat/zoneheat/internal/ports"
	"github.com/adaptiveheat/zoneheat/internal/zone"
)

// Register map: each zone owns a block of BlockSize addresses, blocks are
// assigned in lexical zone-id order.
//
// Holding registers (rw), block-relative:
//
//	0: target temperature (scaled by TemperatureScale)
//	1: hvac mode (zone.HVACMode ordinal)
//
// Input registers (ro), block-relative:
//
//	0: current temperature
//	1: outdoor temperature
//	2: instant slope in centi-°C/h
//	3: planned on duration, seconds
//	4: residual peak delay, seconds
//
// Coils (ro), block-relative:
//
//	0: heater on
//	1: window open
//
// Unavailable temperatures read as Unavailable (-32768).
const BlockSize = 16

// Config for the Modbus controller.
type Config struct {
	Addr   string
	UnitID byte // UnitID (Modbus slave/unit ID). Use an integer 1..247.
}

type Controller struct {
	zones []ports.ZoneService
	cfg   Config

	serv *mbserver.Server
}

func New(zones []ports.ZoneService, cfg Config) (*Controller, error) {
	if cfg.UnitID == 0 {
		return nil, errors.New("modbus: UnitID is required (non-zero)")
	}
	if len(zones) == 0 {
		return nil, errors.New("modbus: at least one zone is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:1502"
	}
	ordered := append([]ports.ZoneService(nil), zones...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID() < ordered[j].ID() })
	return &Controller{zones: ordered, cfg: cfg}, nil
}

func (c *Controller) zoneAt(addr int) (ports.ZoneService, int, bool) {
	idx := addr / BlockSize
	if idx < 0 || idx >= len(c.zones) {
		return nil, 0, false
	}
	return c.zones[idx], addr % BlockSize, true
}

// Run starts the Modbus server and registers handlers that apply writes
// immediately and provide reads directly from the zone services. It blocks
// until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	serv := mbserver.NewServer()
	c.serv = serv

	// Register handlers BEFORE starting the TCP listener to avoid races
	// inside mbserver between handler registration and the server's
	// goroutines.

	// Read Coils (function 1) - heater and window state per zone.
	serv.RegisterFunctionHandler(1, func(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		data := frame.GetData()
		if len(data) < 4 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		start := int(binary.BigEndian.Uint16(data[0:2]))
		qty := int(binary.BigEndian.Uint16(data[2:4]))
		if qty == 0 || qty > 2000 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		if start+qty > len(c.zones)*BlockSize {
			return []byte{}, &mbserver.IllegalDataAddress
		}

		byteCount := (qty + 7) / 8
		resp := make([]byte, 1+byteCount)
		resp[0] = byte(byteCount)
		for i := 0; i < qty; i++ {
			svc, rel, ok := c.zoneAt(start + i)
			if !ok {
				return []byte{}, &mbserver.IllegalDataAddress
			}
			st := svc.Status()
			var bit bool
			switch rel {
			case 0:
				bit = st.HeaterOn
			case 1:
				bit = st.WindowOpen
			}
			if bit {
				resp[1+i/8] |= 1 << (i % 8)
			}
		}
		return resp, &mbserver.Success
	})

	// Read Holding Registers (function 3).
	serv.RegisterFunctionHandler(3, func(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		data := frame.GetData()
		if len(data) < 4 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		start := int(binary.BigEndian.Uint16(data[0:2]))
		qty := int(binary.BigEndian.Uint16(data[2:4]))
		if qty == 0 || qty > 125 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		if start+qty > len(c.zones)*BlockSize {
			return []byte{}, &mbserver.IllegalDataAddress
		}

		regs := make([]uint16, 0, qty)
		for i := 0; i < qty; i++ {
			svc, rel, ok := c.zoneAt(start + i)
			if !ok {
				return []byte{}, &mbserver.IllegalDataAddress
			}
			st := svc.Status()
			switch rel {
			case 0:
				regs = append(regs, encodeTemp(st.Target))
			case 1:
				regs = append(regs, uint16(st.Mode))
			default:
				regs = append(regs, 0)
			}
		}
		return packRegisters(regs), &mbserver.Success
	})

	// Read Input Registers (function 4).
	serv.RegisterFunctionHandler(4, func(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		data := frame.GetData()
		if len(data) < 4 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		start := int(binary.BigEndian.Uint16(data[0:2]))
		qty := int(binary.BigEndian.Uint16(data[2:4]))
		if qty == 0 || qty > 125 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		if start+qty > len(c.zones)*BlockSize {
			return []byte{}, &mbserver.IllegalDataAddress
		}

		regs := make([]uint16, 0, qty)
		for i := 0; i < qty; i++ {
			svc, rel, ok := c.zoneAt(start + i)
			if !ok {
				return []byte{}, &mbserver.IllegalDataAddress
			}
			st := svc.Status()
			switch rel {
			case 0:
				regs = append(regs, encodeOptTemp(st.CurrentTemperature))
			case 1:
				regs = append(regs, encodeOptTemp(st.OutdoorTemperature))
			case 2:
				regs = append(regs, encodeTemp(st.SlopeInstant))
			case 3:
				regs = append(regs, encodeSeconds(floatOrZero(st.PlannedOnDuration)))
			case 4:
				regs = append(regs, encodeSeconds(st.ResidualPeakDelay))
			default:
				regs = append(regs, 0)
			}
		}
		return packRegisters(regs), &mbserver.Success
	})

	// Write Single Register (function 6).
	serv.RegisterFunctionHandler(6, func(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		data := frame.GetData()
		if len(data) < 4 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		addr := int(binary.BigEndian.Uint16(data[0:2]))
		value := binary.BigEndian.Uint16(data[2:4])

		if ex := c.writeRegister(addr, value); ex != nil {
			return []byte{}, ex
		}

		// echo request (address + value)
		resp := make([]byte, 4)
		copy(resp, data[0:4])
		return resp, &mbserver.Success
	})

	// Write Multiple Registers (function 16).
	serv.RegisterFunctionHandler(16, func(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		d := frame.GetData()
		if len(d) < 5 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		start := binary.BigEndian.Uint16(d[0:2])
		quantity := binary.BigEndian.Uint16(d[2:4])
		byteCount := int(d[4])
		if byteCount != int(quantity)*2 || len(d) < 5+byteCount {
			return []byte{}, &mbserver.IllegalDataValue
		}
		for i := 0; i < int(quantity); i++ {
			addr := int(start) + i
			val := binary.BigEndian.Uint16(d[5+i*2 : 5+i*2+2])
			if ex := c.writeRegister(addr, val); ex != nil {
				return []byte{}, ex
			}
		}

		resp := make([]byte, 4)
		binary.BigEndian.PutUint16(resp[0:2], start)
		binary.BigEndian.PutUint16(resp[2:4], quantity)
		return resp, &mbserver.Success
	})

	// Now start listening after all handlers are registered.
	if err := serv.ListenTCP(c.cfg.Addr); err != nil {
		return fmt.Errorf("mbserver listen tcp %s: %w", c.cfg.Addr, err)
	}

	// Block until ctx.Done()
	<-ctx.Done()
	serv.Close()
	return ctx.Err()
}

func (c *Controller) writeRegister(addr int, value uint16) *mbserver.Exception {
	svc, rel, ok := c.zoneAt(addr)
	if !ok {
		return &mbserver.IllegalDataAddress
	}
	switch rel {
	case 0:
		if err := svc.SetTarget(decodeTemp(value)); err != nil {
			return &mbserver.IllegalDataValue
		}
	case 1:
		if err := svc.SetMode(zone.HVACMode(value)); err != nil {
			return &mbserver.IllegalDataValue
		}
	default:
		return &mbserver.IllegalDataAddress
	}
	return nil
}

func packRegisters(regs []uint16) []byte {
	byteCount := len(regs) * 2
	resp := make([]byte, 1+byteCount)
	resp[0] = byte(byteCount)
	for i, r := range regs {
		binary.BigEndian.PutUint16(resp[1+i*2:1+i*2+2], r)
	}
	return resp
}

const TemperatureScale int = 100

// Unavailable is the sentinel read for a missing sensor value.
const Unavailable = math.MinInt16

func encodeTemp(v float64) uint16 {
	r := min(max(int(math.Round(v*float64(TemperatureScale))), math.MinInt16+1), math.MaxInt16)
	return uint16(int16(r))
}

func encodeOptTemp(v *float64) uint16 {
	if v == nil {
		sentinel := int16(Unavailable)
		return uint16(sentinel)
	}
	return encodeTemp(*v)
}

func encodeSeconds(v float64) uint16 {
	return uint16(min(max(int(math.Round(v)), 0), math.MaxUint16))
}

func decodeTemp(u uint16) float64 {
	i := int16(u)
	return float64(i) / float64(TemperatureScale)
}

func floatOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
