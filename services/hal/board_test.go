package hal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"envfeed-go/bus"
	"envfeed-go/types"
)

func TestParsePull(t *testing.T) {
	for in, want := range map[string]Pull{"up": PullUp, "DOWN": PullDown, "": PullNone, "none": PullNone} {
		got, err := ParsePull(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParsePull("sideways")
	require.ErrorIs(t, err, ErrInvalidPull)
}

func TestFakePinInputFollowsPullAndDriver(t *testing.T) {
	p := NewFakePin("D2")
	require.NoError(t, p.ConfigureInput(PullUp))
	require.True(t, p.Get(), "pull-up reads high when undriven")

	p.Drive(false)
	require.False(t, p.Get())
	p.Float()
	require.True(t, p.Get())

	require.NoError(t, p.ConfigureOutput(false))
	require.True(t, p.IsOutput())
	require.False(t, p.Get())
}

func TestOpenDrainReleaseAndDrive(t *testing.T) {
	p := NewFakePin("D2")
	od := NewOpenDrain(p, PullUp)

	require.NoError(t, od.DriveLow())
	require.True(t, p.IsOutput())
	require.False(t, od.Get())

	require.NoError(t, od.Release())
	require.False(t, p.IsOutput())
	require.True(t, od.Get())

	// remote end pulls the line down while released
	p.Drive(false)
	require.False(t, od.Get())
}

func TestHostFactoryReturnsStablePins(t *testing.T) {
	f := NewHostPinFactory()
	a, ok := f.ByName("D11")
	require.True(t, ok)
	b, _ := f.ByName("D11")
	require.Same(t, a, b)

	_, ok = f.ByName("")
	require.False(t, ok)
}

func TestLEDActiveLow(t *testing.T) {
	p := NewFakePin("LED")
	l := NewLED(LEDError, p, true, nil)

	require.NoError(t, l.Init(false))
	require.True(t, p.Get(), "active-low off is a high pin")
	require.False(t, l.Get())

	l.Set(true)
	require.False(t, p.Get())
	require.True(t, l.Get())
}

func TestLEDPublishesChangesOnly(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("hal")
	sub := b.NewConnection("test").Subscribe(bus.T(types.TopicIndicator, LEDAlert))

	p := NewFakePin("D11")
	l := NewLED(LEDAlert, p, false, conn)
	require.NoError(t, l.Init(false))
	l.Set(false)
	l.Set(true)
	l.Set(true)

	var got []bool
	for i := 0; i < 2; i++ {
		select {
		case m := <-sub.Channel():
			require.True(t, m.Retained)
			got = append(got, m.Payload.(types.LEDValue).On)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for indicator message")
		}
	}
	require.Equal(t, []bool{false, true}, got)

	select {
	case m := <-sub.Channel():
		t.Fatalf("unexpected message %v", m.Payload)
	default:
	}
	require.Equal(t, 4, p.Writes())
}

func TestOpenBoard(t *testing.T) {
	f := NewHostPinFactory()
	b, err := Open(f, BoardConfig{
		ClockPin: "D1", DataPin: "D2", DataPull: PullUp,
		ErrorPin: "LED", AlertPin: "D11",
	}, nil)
	require.NoError(t, err)

	clk, _ := f.Get("D1")
	data, _ := f.Get("D2")
	require.True(t, clk.IsOutput())
	require.False(t, clk.Get())
	require.False(t, data.IsOutput())
	require.True(t, b.Data.Get())
	require.False(t, b.Error.Get())
	require.False(t, b.Alert.Get())
	require.Equal(t, "gpio_led", b.Alert.Info().Driver)
	require.True(t, b.HasSensorLines())
}

func TestOpenBoardWithoutSensorLines(t *testing.T) {
	f := NewHostPinFactory()
	b, err := Open(f, BoardConfig{ErrorPin: "LED", AlertPin: "D11", ActiveLow: true}, nil)
	require.NoError(t, err)
	require.False(t, b.HasSensorLines())
	led, _ := f.Get("LED")
	require.True(t, led.Get(), "active-low LED starts off with the pin high")

	_, err = Open(f, BoardConfig{ClockPin: "D12", ErrorPin: "LED", AlertPin: "D11"}, nil)
	require.ErrorIs(t, err, ErrUnknownPin, "a lone sensor pin is a configuration error")
}

func TestOpenBoardUnknownPin(t *testing.T) {
	_, err := Open(NewHostPinFactory(), BoardConfig{ClockPin: "D1", DataPin: "D2", ErrorPin: "LED"}, nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnknownPin))
	require.Contains(t, err.Error(), "alert led")
}

func TestLEDInitPublishesInfo(t *testing.T) {
	b := bus.NewBus(4)
	p := NewFakePin("D11")
	l := NewLED(LEDAlert, p, true, b.NewConnection("hal"))
	require.NoError(t, l.Init(false))

	sub := b.NewConnection("test").Subscribe(bus.T(types.TopicIndicator, LEDAlert, types.TopicInfo))
	select {
	case m := <-sub.Channel():
		info, ok := m.Payload.(types.Info)
		require.True(t, ok)
		require.Equal(t, "gpio_led", info.Driver)
		require.Equal(t, types.LEDInfo{Pin: "D11", ActiveLow: true}, info.Detail)
	case <-time.After(time.Second):
		t.Fatal("no retained info message")
	}
}
