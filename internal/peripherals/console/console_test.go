package console

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxirmx/fuelflux-sub000/internal/types"
)

func TestDisplayShutdownThenInitializeRestoresDisplay(t *testing.T) {
	d := NewDisplay(nil)
	d.Show(types.DisplayMessage{Line1: "hi"})
	d.Shutdown()
	require.NoError(t, d.Initialize())
	require.Equal(t, [4]string{}, d.Lines())
	d.Show(types.DisplayMessage{Line1: "back"})
	require.Equal(t, "back", d.Lines()[0])
}

func TestKeyboardOnlyDeliversWhenEnabled(t *testing.T) {
	k := NewKeyboard()
	var got types.KeyCode = -1
	k.OnKey(func(c types.KeyCode) { got = c })

	k.Press(types.Key5)
	require.Equal(t, types.KeyCode(-1), got, "disabled keyboard must not deliver")

	k.Enable()
	k.Press(types.Key5)
	require.Equal(t, types.Key5, got)

	k.Disable()
	k.Press(types.Key9)
	require.Equal(t, types.Key5, got, "press after disable must not deliver")
}

func TestCardReaderOnlyDeliversWhenEnabled(t *testing.T) {
	r := NewCardReader()
	var got string
	r.OnCard(func(uid string) { got = uid })

	r.Present("CARD-1")
	require.Empty(t, got)

	r.Enable()
	r.Present("CARD-1")
	require.Equal(t, "CARD-1", got)
}

func TestPumpStartStopIdempotentAndFiresOnlyOnTransition(t *testing.T) {
	p := NewPump()
	var transitions int
	p.OnStateChange(func(bool) { transitions++ })

	p.Start()
	p.Start()
	require.True(t, p.IsRunning())
	require.Equal(t, 1, transitions)

	p.Stop()
	p.Stop()
	require.False(t, p.IsRunning())
	require.Equal(t, 2, transitions)
}

func TestPumpShutdownLeavesRelayOff(t *testing.T) {
	p := NewPump()
	p.Start()
	p.Shutdown()
	require.False(t, p.IsRunning())
}

func TestFlowMeterResetClearsCurrentAndTotal(t *testing.T) {
	f := NewFlowMeter()
	f.StartMeasurement()
	f.AddVolume(5)
	f.AddVolume(3)
	require.Equal(t, types.Volume(8), f.CurrentVolume())
	require.Equal(t, types.Volume(8), f.TotalVolume())

	f.Reset()
	require.Equal(t, types.Volume(0), f.CurrentVolume())
	require.Equal(t, types.Volume(0), f.TotalVolume(), "Reset clears the accumulated total too")

	f.AddVolume(2)
	require.Equal(t, types.Volume(2), f.CurrentVolume())
	require.Equal(t, types.Volume(2), f.TotalVolume())
}

func TestFlowMeterIgnoresVolumeWhenNotMeasuring(t *testing.T) {
	f := NewFlowMeter()
	f.AddVolume(5)
	require.Equal(t, types.Volume(0), f.CurrentVolume())
}
