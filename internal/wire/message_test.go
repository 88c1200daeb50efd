package wire

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripEveryKind(t *testing.T) {
	samples := []struct {
		integral int16
		decimal  float32
	}{
		{0, 0},
		{1, 1.5},
		{-1, -1.25},
		{math.MaxInt16, 32767.9},
		{math.MinInt16, -32768},
		{7, 123.456}, // inconsistent pairs still survive the codec untouched
		{0, math.SmallestNonzeroFloat32},
		{0, math.MaxFloat32},
	}

	for _, kind := range Kinds() {
		for _, s := range samples {
			m := Message{Kind: kind, Integral: s.integral, Decimal: s.decimal}
			frame, err := Encode(m)
			require.NoError(t, err)
			require.Len(t, frame, FrameSize)

			got, err := Decode(frame)
			require.NoError(t, err)
			if diff := cmp.Diff(m, got); diff != "" {
				t.Errorf("round trip mismatch for %v (-want +got):\n%s", kind, diff)
			}
		}
	}
}

func TestEncodeLayout(t *testing.T) {
	frame, err := Encode(Message{Kind: LongDistanceSensor, Integral: 42, Decimal: 42.5})
	require.NoError(t, err)

	want := []byte{
		0x02, 0x00, 0x00, 0x00, // kind
		0x2a, 0x00, // integral
		0x00, 0x00, 0x2a, 0x42, // 42.5f
	}
	assert.Equal(t, want, frame)

	frame, err = Encode(Message{Kind: IsFalling, Integral: -2, Decimal: -2})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x06, 0, 0, 0, 0xfe, 0xff, 0x00, 0x00, 0x00, 0xc0}, frame)
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	valid, err := Encode(Message{Kind: GyroscopeX, Integral: 3, Decimal: 3.3})
	require.NoError(t, err)

	for _, b := range [][]byte{
		nil,
		{},
		valid[:FrameSize-1],
		append(append([]byte{}, valid...), 0x00),
		make([]byte, 16),
	} {
		m, err := Decode(b)
		assert.ErrorIs(t, err, ErrFrameSize, "len %d", len(b))
		assert.Equal(t, Message{}, m)
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	frame, err := Encode(Message{Kind: PowerButton, Integral: 1, Decimal: 1})
	require.NoError(t, err)

	for _, tag := range []byte{byte(NumKinds), 0x7f, 0xff} {
		bad := append([]byte{}, frame...)
		bad[0] = tag
		m, err := Decode(bad)
		assert.ErrorIs(t, err, ErrUnknownKind)
		assert.Equal(t, Message{}, m)
	}

	// high bytes of the tag count too
	bad := append([]byte{}, frame...)
	bad[3] = 0x01
	_, err = Decode(bad)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecodeRejectsNonFiniteDecimal(t *testing.T) {
	frame, err := Encode(Message{Kind: AccelerometerZ, Integral: 9, Decimal: 9.8})
	require.NoError(t, err)

	for _, bits := range []uint32{0x7fc00000, 0x7f800000, 0xff800000} {
		bad := append([]byte{}, frame...)
		bad[6] = byte(bits)
		bad[7] = byte(bits >> 8)
		bad[8] = byte(bits >> 16)
		bad[9] = byte(bits >> 24)
		m, err := Decode(bad)
		assert.ErrorIs(t, err, ErrMalformed)
		assert.Equal(t, Message{}, m)
	}
}

func TestEncodeFailures(t *testing.T) {
	_, err := Encode(Message{Kind: Kind(NumKinds)})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = Encode(Message{Kind: GyroscopeY, Decimal: float32(math.Inf(1))})
	assert.ErrorIs(t, err, ErrMalformed)

	buf := make([]byte, FrameSize-1)
	n, err := EncodeTo(buf, Message{Kind: GyroscopeY})
	assert.ErrorIs(t, err, ErrShortBuffer)
	assert.Zero(t, n)
	assert.Equal(t, make([]byte, FrameSize-1), buf, "short buffer must be left untouched")

	big := make([]byte, 32)
	n, err = EncodeTo(big, Message{Kind: GyroscopeY, Integral: 1, Decimal: 1})
	require.NoError(t, err)
	assert.Equal(t, FrameSize, n)
}

func TestFillHelpers(t *testing.T) {
	tests := []struct {
		name    string
		decimal float32
		want    int16
	}{
		{"positive truncates", 12.9, 12},
		{"negative truncates towards zero", -12.9, -12},
		{"saturates high", 1e9, math.MaxInt16},
		{"saturates low", -1e9, math.MinInt16},
		{"nan", float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := FillDecimal(Message{Kind: LongDistanceSensor}, tt.decimal)
			assert.Equal(t, tt.want, m.Integral)
			assert.Equal(t, LongDistanceSensor, m.Kind)
		})
	}

	m := FillIntegral(Message{Kind: IsFalling, Decimal: 99}, 1)
	assert.Equal(t, Message{Kind: IsFalling, Integral: 1, Decimal: 1}, m)
}

func TestKinds(t *testing.T) {
	kinds := Kinds()
	require.Len(t, kinds, NumKinds)
	for i, k := range kinds {
		assert.Equal(t, Kind(i), k)
		assert.True(t, k.Valid())

		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseKind("Altimeter")
	assert.True(t, errors.Is(err, ErrUnknownKind))
	_, err = ParseKind("isfalling")
	assert.Error(t, err, "names are case sensitive")

	assert.Equal(t, "Kind(42)", Kind(42).String())
	assert.False(t, Kind(42).Valid())
}

func TestKindJSON(t *testing.T) {
	data, err := json.Marshal(Message{Kind: IsFalling, Integral: 1, Decimal: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"IsFalling","integral":1,"decimal":1}`, string(data))

	var m Message
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, IsFalling, m.Kind)

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"Nope"}`), &m))

	_, err = json.Marshal(Kind(99))
	assert.Error(t, err)
}
