package printer

import (
	"context"
	"testing"
	"time"

	"github.com/gousbd/usbdevice/device"
	"github.com/gousbd/usbdevice/device/hal/dpram16"
	"github.com/gousbd/usbdevice/pkg"
)

func TestGetDeviceID(t *testing.T) {
	p := New("MFG:Acme;MDL:Laser1;CMD:PCL;")

	setup := &device.SetupPacket{RequestType: 0xA1, Request: RequestGetDeviceID, Length: 256}
	handled, resp, err := p.HandleSetup(nil, setup, nil)
	if err != nil || !handled {
		t.Fatalf("HandleSetup: handled=%v err=%v", handled, err)
	}

	want := "MFG:Acme;MDL:Laser1;CMD:PCL;"
	total := uint16(resp[0])<<8 | uint16(resp[1])
	if int(total) != len(want)+2 {
		t.Fatalf("length prefix = %d, want %d", total, len(want)+2)
	}
	if string(resp[2:]) != want {
		t.Fatalf("device ID = %q, want %q", resp[2:], want)
	}
}

func TestGetDeviceIDTruncatesOverlongString(t *testing.T) {
	long := make([]byte, MaxDeviceIDLength+50)
	for i := range long {
		long[i] = 'x'
	}
	p := New(string(long))

	setup := &device.SetupPacket{RequestType: 0xA1, Request: RequestGetDeviceID}
	_, resp, err := p.HandleSetup(nil, setup, nil)
	if err != nil {
		t.Fatalf("HandleSetup: %v", err)
	}
	if len(resp)-2 != MaxDeviceIDLength {
		t.Fatalf("truncated length = %d, want %d", len(resp)-2, MaxDeviceIDLength)
	}
}

func TestGetPortStatus(t *testing.T) {
	p := New("MFG:Acme;")
	p.SetPortStatus(PortStatusNotError | PortStatusSelect | PortStatusPaperEout)

	setup := &device.SetupPacket{RequestType: 0xA1, Request: RequestGetPortStatus}
	handled, resp, err := p.HandleSetup(nil, setup, nil)
	if err != nil || !handled || len(resp) != 1 {
		t.Fatalf("HandleSetup: handled=%v resp=%v err=%v", handled, resp, err)
	}
	if resp[0] != PortStatusNotError|PortStatusSelect|PortStatusPaperEout {
		t.Fatalf("port status = %#x", resp[0])
	}
}

func TestSoftResetInvokesCallback(t *testing.T) {
	p := New("MFG:Acme;")

	called := make(chan struct{}, 1)
	p.SetOnSoftReset(func() { called <- struct{}{} })

	setup := &device.SetupPacket{RequestType: 0x21, Request: RequestSoftReset}
	if _, _, err := p.HandleSetup(nil, setup, nil); err != nil {
		t.Fatalf("HandleSetup: %v", err)
	}

	select {
	case <-called:
	default:
		t.Fatal("expected onSoftReset to be invoked by SOFT_RESET")
	}
}

func TestResetActsLikeSoftReset(t *testing.T) {
	p := New("MFG:Acme;")

	called := make(chan struct{}, 1)
	p.SetOnSoftReset(func() { called <- struct{}{} })

	p.Reset()

	select {
	case <-called:
	default:
		t.Fatal("expected Reset to invoke the onSoftReset callback")
	}
}

func newConfiguredPrinterOverDPRAM16(t *testing.T, bidirectional bool) (*Printer, *dpram16.HAL) {
	t.Helper()

	h := dpram16.New()
	if err := h.Init(context.Background()); err != nil {
		t.Fatalf("HAL Init: %v", err)
	}

	builder := device.NewDeviceBuilder().
		WithVendorProduct(0x1209, 0x0005).
		AddConfiguration(1)

	p := New("MFG:Acme;MDL:Laser1;CMD:PCL;")
	dataIn := uint8(0)
	if bidirectional {
		dataIn = 0x81
	}
	p.ConfigureDevice(builder, 0x02, dataIn)

	dev, err := builder.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	stack := device.NewStack(dev, h)

	if err := p.AttachToInterface(dev, 1, 0); err != nil {
		t.Fatalf("AttachToInterface: %v", err)
	}
	p.SetStack(stack)

	dev.Reset()
	if err := dev.SetAddress(3); err != nil {
		t.Fatalf("SetAddress: %v", err)
	}
	if err := dev.SetConfiguration(1); err != nil {
		t.Fatalf("SetConfiguration: %v", err)
	}

	return p, h
}

func TestRunDeliversJobData(t *testing.T) {
	p, h := newConfiguredPrinterOverDPRAM16(t, false)

	received := make(chan []byte, 1)
	p.SetOnData(func(data []byte) {
		out := make([]byte, len(data))
		copy(out, data)
		received <- out
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	if err := h.Inject(0x02, []byte("%PDF-job-data")); err != nil {
		t.Fatalf("Inject: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != "%PDF-job-data" {
			t.Fatalf("received %q", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Run to deliver job data")
	}
}

func TestSendDataRequiresInEndpoint(t *testing.T) {
	p, _ := newConfiguredPrinterOverDPRAM16(t, false)

	if _, err := p.SendData(context.Background(), []byte("status")); err != pkg.ErrInvalidEndpoint {
		t.Fatalf("SendData on unidirectional printer: %v", err)
	}
}

func TestSendDataWritesToBulkIn(t *testing.T) {
	p, h := newConfiguredPrinterOverDPRAM16(t, true)

	n, err := p.SendData(context.Background(), []byte("OK"))
	if err != nil {
		t.Fatalf("SendData: %v", err)
	}
	if n != 2 {
		t.Fatalf("SendData returned %d, want 2", n)
	}

	data, ok := h.Drain(0x81)
	if !ok || string(data) != "OK" {
		t.Fatalf("Drain = %v, %v", data, ok)
	}
}
