package units

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

func TestToBaseUnit(t *testing.T) {
	tests := []struct {
		unit types.Unit
		in   float64
		want float64
	}{
		{types.UnitW, 12, 12},
		{types.UnitKW, 1.5, 1500},
		{types.UnitMW, 2, 2e6},
		{types.UnitGW, 3, 3e9},
		{types.UnitWh, 12, 12},
		{types.UnitKWh, 0.25, 250},
		{types.UnitMWh, 1, 1e6},
		{types.UnitGWh, 1, 1e9},
	}
	for _, tt := range tests {
		t.Run(string(tt.unit), func(t *testing.T) {
			got, err := ToBaseUnit(tt.in, tt.unit)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := ToBaseUnit(1, "°C")
	assert.ErrorIs(t, err, ErrUnitMismatch)
}

func TestIsPower(t *testing.T) {
	p, err := IsPower(types.UnitKW)
	require.NoError(t, err)
	assert.True(t, p)

	p, err = IsPower(types.UnitKWh)
	require.NoError(t, err)
	assert.False(t, p)

	_, err = IsPower("%")
	assert.ErrorIs(t, err, ErrUnitMismatch)
}

func TestConvert(t *testing.T) {
	v, err := Convert(1500, types.UnitWh, types.UnitKWh)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, v, 1e-9)

	_, err = Convert(1, types.UnitKW, types.UnitKWh)
	assert.ErrorIs(t, err, ErrUnitMismatch)

	assert.True(t, SameFamily(types.UnitW, types.UnitGW))
	assert.False(t, SameFamily(types.UnitW, types.UnitWh))
	assert.False(t, SameFamily(types.UnitW, "%"))
}

func TestAutoScale(t *testing.T) {
	th := types.DefaultThresholds()

	t.Run("energy ladder", func(t *testing.T) {
		for _, tt := range []struct {
			in   float64
			want float64
			unit types.Unit
		}{
			{500, 500, types.UnitWh},
			{1500, 1.5, types.UnitKWh},
			{2_500_000, 2.5, types.UnitMWh},
			{3_500_000_000, 3.5, types.UnitGWh},
		} {
			v, u := AutoScale(tt.in, th, false)
			assert.Equal(t, tt.want, v)
			assert.Equal(t, tt.unit, u)
		}
	})

	t.Run("kilo", func(t *testing.T) {
		v, u := AutoScale(1500, th, true)
		assert.Equal(t, 1.5, v)
		assert.Equal(t, types.UnitKW, u)
	})

	t.Run("at threshold stays base", func(t *testing.T) {
		v, u := AutoScale(1000, th, false)
		assert.Equal(t, 1000.0, v)
		assert.Equal(t, types.UnitWh, u)
	})

	t.Run("mega and giga", func(t *testing.T) {
		v, u := AutoScale(2_345_678, th, false)
		assert.Equal(t, 2.3, v)
		assert.Equal(t, types.UnitMWh, u)

		v, u = AutoScale(7e9, th, true)
		assert.Equal(t, 7.0, v)
		assert.Equal(t, types.UnitGW, u)
	})

	t.Run("negative scales by magnitude", func(t *testing.T) {
		v, u := AutoScale(-1500, th, true)
		assert.Equal(t, -1.5, v)
		assert.Equal(t, types.UnitKW, u)
	})

	t.Run("custom thresholds", func(t *testing.T) {
		v, u := AutoScale(5000, types.Thresholds{Kilo: 10000, Mega: 1e7, Giga: 1e10}, true)
		assert.Equal(t, 5000.0, v)
		assert.Equal(t, types.UnitW, u)
	})
}

func TestScale(t *testing.T) {
	r, err := Scale(1500, types.UnitKWh, types.DefaultThresholds())
	require.NoError(t, err)
	assert.Equal(t, types.NewReading(1.5, types.UnitMWh), r)

	r, err = Scale(1, "%", types.DefaultThresholds())
	assert.ErrorIs(t, err, ErrUnitMismatch)
	assert.False(t, r.Available)
}

func TestResolve(t *testing.T) {
	u, err := Resolve("kWh", "Wh")
	require.NoError(t, err)
	assert.Equal(t, types.UnitKWh, u, "configured unit must win")

	u, err = Resolve("", "W")
	require.NoError(t, err)
	assert.Equal(t, types.UnitW, u)

	_, err = Resolve("", "")
	assert.ErrorIs(t, err, ErrUnitMismatch)

	_, err = Resolve("", "°C")
	assert.ErrorIs(t, err, ErrUnitMismatch)
}

func TestAutoScaleProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 500
	properties := gopter.NewProperties(params)
	th := types.DefaultThresholds()

	properties.Property("round trip stays within rounding of the picked unit", prop.ForAll(
		func(base float64, isPower bool) bool {
			v, u := AutoScale(base, th, isPower)
			back, err := ToBaseUnit(v, u)
			if err != nil {
				return false
			}
			factor, _ := ToBaseUnit(1, u)
			return math.Abs(back-base) <= 0.05*factor+1e-6*math.Abs(base)
		},
		gen.Float64Range(-5e10, 5e10),
		gen.Bool(),
	))

	properties.Property("larger magnitude never picks a smaller unit", prop.ForAll(
		func(a, b float64, isPower bool) bool {
			lo, hi := math.Abs(a), math.Abs(b)
			if lo > hi {
				lo, hi = hi, lo
			}
			_, ul := AutoScale(lo, th, isPower)
			_, uh := AutoScale(-hi, th, isPower)
			fl, _ := ToBaseUnit(1, ul)
			fh, _ := ToBaseUnit(1, uh)
			return fl <= fh
		},
		gen.Float64Range(-5e10, 5e10),
		gen.Float64Range(-5e10, 5e10),
		gen.Bool(),
	))

	properties.Property("family is preserved", prop.ForAll(
		func(base float64, unit types.Unit) bool {
			isPower, _ := IsPower(unit)
			_, u := AutoScale(base, th, isPower)
			return SameFamily(u, unit)
		},
		gen.Float64Range(-5e10, 5e10),
		gen.OneConstOf(types.UnitW, types.UnitKW, types.UnitWh, types.UnitGWh),
	))

	properties.TestingRun(t)
}
