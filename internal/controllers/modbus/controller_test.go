package modbusctrl

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/goburrow/modbus"

	"github.com/adaptiveheat/zoneheat/internal/ports"
	"github.com/adaptiveheat/zoneheat/internal/testutil"
	"github.com/adaptiveheat/zoneheat/internal/zone"
)

func findFreeTCPAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	a := l.Addr().String()
	_ = l.Close()
	return a
}

const settle = 50 * time.Millisecond

func TestModbusControllerHandlers(t *testing.T) {
	// Blocks are assigned in lexical order: bedroom first, living second.
	living := testutil.NewFakeZoneService("living")
	bedroom := testutil.NewFakeZoneService("bedroom")
	living.S.HeaterOn = true
	living.S.Target = 22.5
	outdoor := 4.5
	living.S.OutdoorTemperature = &outdoor

	addr := findFreeTCPAddr(t)

	ctrl, err := New([]ports.ZoneService{living, bedroom}, Config{
		Addr:   addr,
		UnitID: 1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := t.Context()
	go func() {
		_ = ctrl.Run(ctx)
	}()

	time.Sleep(settle)

	handler := modbus.NewTCPClientHandler(addr)
	if err := handler.Connect(); err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer handler.Close()
	client := modbus.NewClient(handler)

	// Living is block 1: holding registers 16..17.
	res, err := client.ReadHoldingRegisters(BlockSize, 2)
	if err != nil {
		t.Fatalf("read holding: %v", err)
	}
	if len(res) != 4 {
		t.Fatalf("expected 4 bytes got %d", len(res))
	}
	get := func(i int) uint16 { return binary.BigEndian.Uint16(res[i*2 : i*2+2]) }
	if get(0) != encodeTemp(22.5) {
		t.Fatalf("target mismatch: got %d", get(0))
	}
	if get(1) != uint16(zone.ModeHeat) {
		t.Fatalf("mode mismatch: got %d", get(1))
	}

	// Input registers: current and outdoor temperature of living.
	res, err = client.ReadInputRegisters(BlockSize, 2)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	if binary.BigEndian.Uint16(res[0:2]) != encodeTemp(20.4) {
		t.Fatalf("current temp mismatch: got %d", binary.BigEndian.Uint16(res[0:2]))
	}
	if binary.BigEndian.Uint16(res[2:4]) != encodeTemp(4.5) {
		t.Fatalf("outdoor temp mismatch: got %d", binary.BigEndian.Uint16(res[2:4]))
	}

	// Coils: living heater on, window closed.
	coils, err := client.ReadCoils(BlockSize, 2)
	if err != nil {
		t.Fatalf("read coils: %v", err)
	}
	if coils[0]&0x01 == 0 {
		t.Fatal("living heater coil should be set")
	}
	if coils[0]&0x02 != 0 {
		t.Fatal("living window coil should be clear")
	}

	// Write target of bedroom (block 0).
	newTarget := encodeTemp(19.5)
	if _, err := client.WriteSingleRegister(0, newTarget); err != nil {
		t.Fatalf("write register: %v", err)
	}
	time.Sleep(settle)
	if !bedroom.SetTargetCalled || bedroom.SetTargetArg != decodeTemp(newTarget) {
		t.Fatalf("SetTarget not applied: called=%v arg=%v", bedroom.SetTargetCalled, bedroom.SetTargetArg)
	}

	// Write mode of living.
	if _, err := client.WriteSingleRegister(BlockSize+1, uint16(zone.ModeOff)); err != nil {
		t.Fatalf("write mode: %v", err)
	}
	time.Sleep(settle)
	if !living.SetModeCalled || living.SetModeArg != zone.ModeOff {
		t.Fatalf("SetMode not applied: called=%v arg=%v", living.SetModeCalled, living.SetModeArg)
	}

	// Out-of-range address errors.
	if _, err := client.ReadHoldingRegisters(uint16(2*BlockSize), 1); err == nil {
		t.Fatal("expected illegal address error past the last block")
	}
}

func TestEncodeDecodeTemp(t *testing.T) {
	cases := []float64{0, 21.25, -3.5, 327.0, -327.0}
	for _, v := range cases {
		if got := decodeTemp(encodeTemp(v)); got != v {
			t.Errorf("round trip %v = %v", v, got)
		}
	}
	sentinel := int16(Unavailable)
	if encodeOptTemp(nil) != uint16(sentinel) {
		t.Error("nil temperature must encode as the sentinel")
	}
}

func TestNewValidation(t *testing.T) {
	svc := testutil.NewFakeZoneService("living")
	if _, err := New([]ports.ZoneService{svc}, Config{}); err == nil {
		t.Fatal("expected error for missing UnitID")
	}
	if _, err := New(nil, Config{UnitID: 1}); err == nil {
		t.Fatal("expected error for no zones")
	}
}
