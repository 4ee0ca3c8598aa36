package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/stats"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/storage/storagemock"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

func mustNew(t *testing.T, cfg types.CardConfig) *Topology {
	t.Helper()
	topo, err := New(cfg)
	require.NoError(t, err)
	return topo
}

func baseConfig() types.CardConfig {
	return types.CardConfig{
		Grid: types.NodeConfig{
			PrimaryInputEntity:  "sensor.grid_export",
			PrimaryOutputEntity: "sensor.grid_import",
		},
		Solar: types.NodeConfig{
			PrimaryOutputEntity: "sensor.solar",
		},
		Battery: types.NodeConfig{
			PrimaryInputEntity:  "sensor.battery_charge",
			PrimaryOutputEntity: "sensor.battery_discharge",
			SecondaryEntity:     "sensor.battery_soc",
		},
	}
}

func baseStates() types.States {
	return types.States{
		"sensor.grid_export":       {Value: "100", Unit: "W"},
		"sensor.grid_import":       {Value: "500", Unit: "W"},
		"sensor.solar":             {Value: "0.8", Unit: "kW"},
		"sensor.battery_charge":    {Value: "200", Unit: "W"},
		"sensor.battery_discharge": {Value: "50", Unit: "W"},
		"sensor.battery_soc":       {Value: "76", Unit: "%"},
	}
}

func TestHomeInference(t *testing.T) {
	t.Run("balances base system", func(t *testing.T) {
		topo := mustNew(t, baseConfig())
		topo.Update(baseStates())

		assert.True(t, topo.Home.Inferred())
		// 500 + 800 + 50 - 200 - 100
		assert.Equal(t, types.NewReading(1050, types.UnitW), topo.Home.Input())
	})

	t.Run("direct reading wins", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Home.PrimaryInputEntity = "sensor.home"
		topo := mustNew(t, cfg)
		states := baseStates()
		states["sensor.home"] = types.State{Value: "2", Unit: "kW"}
		topo.Update(states)

		assert.False(t, topo.Home.Inferred())
		assert.Equal(t, types.NewReading(2000, types.UnitW), topo.Home.Input())
	})

	t.Run("unavailable dependency", func(t *testing.T) {
		topo := mustNew(t, baseConfig())
		states := baseStates()
		states["sensor.battery_charge"] = types.State{Value: "unavailable", Unit: "W"}
		topo.Update(states)
		assert.False(t, topo.Home.Input().Available)
	})

	t.Run("mixed families", func(t *testing.T) {
		topo := mustNew(t, baseConfig())
		states := baseStates()
		states["sensor.solar"] = types.State{Value: "3", Unit: "kWh"}
		topo.Update(states)
		assert.False(t, topo.Home.Input().Available)
	})
}

func TestSubHomeResidual(t *testing.T) {
	cfg := types.CardConfig{
		Home: types.NodeConfig{PrimaryInputEntity: "sensor.home"},
		SubHomes: []types.SubHomeConfig{
			{ID: "a", ParentID: IDHome, NodeConfig: types.NodeConfig{PrimaryInputEntity: "sensor.a"}},
			{ID: "b", ParentID: IDHome},
		},
	}
	states := types.States{
		"sensor.home": {Value: "1000", Unit: "Wh"},
		"sensor.a":    {Value: "300", Unit: "Wh"},
	}

	t.Run("single residual", func(t *testing.T) {
		topo := mustNew(t, cfg)
		topo.Update(states)
		b, ok := topo.Node("b")
		require.True(t, ok)
		assert.True(t, b.Inferred())
		assert.Equal(t, types.NewReading(700, types.UnitWh), b.Input())
	})

	t.Run("second unmeasured sibling", func(t *testing.T) {
		withC := cfg
		withC.SubHomes = append(append([]types.SubHomeConfig{}, cfg.SubHomes...), types.SubHomeConfig{ID: "c", ParentID: IDHome})
		topo := mustNew(t, withC)
		topo.Update(states)

		b, _ := topo.Node("b")
		c, _ := topo.Node("c")
		assert.False(t, b.Input().Available)
		assert.False(t, c.Input().Available)
		a, _ := topo.Node("a")
		assert.Equal(t, types.NewReading(300, types.UnitWh), a.Input())
	})

	t.Run("parent input unavailable", func(t *testing.T) {
		topo := mustNew(t, cfg)
		topo.Update(types.States{"sensor.a": {Value: "300", Unit: "Wh"}})
		b, _ := topo.Node("b")
		assert.False(t, b.Input().Available)
	})
}

func TestSubHomeNested(t *testing.T) {
	cfg := types.CardConfig{
		Home: types.NodeConfig{PrimaryInputEntity: "sensor.home"},
		SubHomes: []types.SubHomeConfig{
			// upstairs has no meter but its rooms do
			{ID: "upstairs", ParentID: IDHome},
			{ID: "bedroom", ParentID: "upstairs", NodeConfig: types.NodeConfig{PrimaryInputEntity: "sensor.bedroom"}},
			{ID: "office", ParentID: "upstairs", NodeConfig: types.NodeConfig{PrimaryInputEntity: "sensor.office"}},
			{ID: "kitchen", ParentID: IDHome},
		},
	}
	topo := mustNew(t, cfg)
	topo.Update(types.States{
		"sensor.home":    {Value: "5", Unit: "kWh"},
		"sensor.bedroom": {Value: "1200", Unit: "Wh"},
		"sensor.office":  {Value: "0.8", Unit: "kWh"},
	})

	upstairs, _ := topo.Node("upstairs")
	kitchen, _ := topo.Node("kitchen")
	// kitchen is what is left after the measured rooms upstairs
	assert.Equal(t, types.NewReading(3000, types.UnitWh), kitchen.Input())
	// upstairs is in turn the residual of home after kitchen, which is
	// itself unmeasured
	assert.False(t, upstairs.Input().Available)

	assert.Equal(t, []*Node{upstairs, kitchen}, topo.Children(IDHome))
	assert.Equal(t, topo.Home, topo.Parent(upstairs))
	assert.Nil(t, topo.Parent(topo.Grid))
}

func TestSubHomeBelowResidual(t *testing.T) {
	cfg := types.CardConfig{
		Home: types.NodeConfig{PrimaryInputEntity: "sensor.home"},
		SubHomes: []types.SubHomeConfig{
			{ID: "garage", ParentID: IDHome, NodeConfig: types.NodeConfig{PrimaryInputEntity: "sensor.garage"}},
			{ID: "house", ParentID: IDHome},
			{ID: "heatpump", ParentID: "house", NodeConfig: types.NodeConfig{PrimaryInputEntity: "sensor.heatpump"}},
			{ID: "rest", ParentID: "house"},
		},
	}
	topo := mustNew(t, cfg)
	topo.Update(types.States{
		"sensor.home":     {Value: "1000", Unit: "W"},
		"sensor.garage":   {Value: "100", Unit: "W"},
		"sensor.heatpump": {Value: "600", Unit: "W"},
	})

	house, _ := topo.Node("house")
	rest, _ := topo.Node("rest")
	assert.Equal(t, types.NewReading(900, types.UnitW), house.Input())
	assert.Equal(t, types.NewReading(300, types.UnitW), rest.Input())
}

func TestConfigErrors(t *testing.T) {
	tests := []struct {
		name     string
		subHomes []types.SubHomeConfig
		nodeID   string
		reason   string
	}{
		{
			name:     "unknown parent",
			subHomes: []types.SubHomeConfig{{ID: "a", ParentID: "nowhere"}},
			nodeID:   "a",
			reason:   "no parent found",
		},
		{
			name:     "missing parent",
			subHomes: []types.SubHomeConfig{{ID: "a"}},
			nodeID:   "a",
			reason:   "no parent found",
		},
		{
			name:     "parent is not home",
			subHomes: []types.SubHomeConfig{{ID: "a", ParentID: IDGrid}},
			nodeID:   "a",
			reason:   "no parent found",
		},
		{
			name:     "self parent",
			subHomes: []types.SubHomeConfig{{ID: "a", ParentID: "a"}},
			nodeID:   "a",
			reason:   "sub home cannot be its own parent",
		},
		{
			name: "mutual parents",
			subHomes: []types.SubHomeConfig{
				{ID: "a", ParentID: "b"},
				{ID: "b", ParentID: "a"},
			},
			nodeID: "a",
			reason: "no parent found",
		},
		{
			name: "duplicate id",
			subHomes: []types.SubHomeConfig{
				{ID: "a", ParentID: IDHome},
				{ID: "a", ParentID: IDHome},
			},
			nodeID: "a",
			reason: "duplicate node id",
		},
		{
			name:     "collides with base node",
			subHomes: []types.SubHomeConfig{{ID: IDSolar, ParentID: IDHome}},
			nodeID:   IDSolar,
			reason:   "duplicate node id",
		},
		{
			name:     "empty id",
			subHomes: []types.SubHomeConfig{{ParentID: IDHome}},
			reason:   "sub home without id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(types.CardConfig{SubHomes: tt.subHomes})
			require.Error(t, err)
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.nodeID, cfgErr.NodeID)
			assert.Equal(t, tt.reason, cfgErr.Reason)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestChannelResolution(t *testing.T) {
	cfg := types.CardConfig{
		Grid: types.NodeConfig{
			PrimaryInputEntity:  "sensor.export",
			PrimaryOutputEntity: "sensor.import",
			Unit:                "kWh",
		},
		Battery: types.NodeConfig{
			PrimaryInputEntity: "sensor.temp",
			SecondaryEntity:    "sensor.soc",
		},
		Solar: types.NodeConfig{
			PrimaryOutputEntity: "sensor.nan",
			SecondaryEntity:     "sensor.missing",
		},
	}
	topo := mustNew(t, cfg)
	topo.Update(types.States{
		// configured unit overrides the reported one
		"sensor.export": {Value: "1.5", Unit: "Wh"},
		"sensor.import": {Value: "unknown", Unit: "kWh"},
		"sensor.temp":   {Value: "21", Unit: "°C"},
		"sensor.soc":    {Value: " 80 ", Unit: "%"},
		"sensor.nan":    {Value: "NaN", Unit: "W"},
	})

	assert.Equal(t, types.NewReading(1500, types.UnitWh), topo.Grid.Input())
	assert.False(t, topo.Grid.Output().Available)
	assert.False(t, topo.Battery.Input().Available, "primary channels need an electricity unit")
	assert.Equal(t, types.NewReading(80, "%"), topo.Battery.Secondary())
	assert.False(t, topo.Solar.Output().Available)
	assert.False(t, topo.Solar.Secondary().Available)
	assert.False(t, topo.Home.Output().Available, "no entity configured")
}

func TestDisplay(t *testing.T) {
	cfg := baseConfig()
	cfg.SubHomes = []types.SubHomeConfig{{ID: "garage", ParentID: IDHome}}
	topo := mustNew(t, cfg)
	states := baseStates()
	states["sensor.grid_import"] = types.State{Value: "1.5", Unit: "kW"}
	states["sensor.battery_discharge"] = types.State{Value: "80", Unit: "W"}
	topo.Update(states)

	assert.Equal(t, "← 100 W / → 1.5 kW", topo.Grid.Display())
	assert.Equal(t, "← 80 W / → 200 W", topo.Battery.Display())
	assert.Equal(t, "800 W", topo.Solar.Display())
	// 1500 + 800 + 80 - 200 - 100
	assert.Equal(t, "2.1 kW", topo.Home.Display())
	garage, _ := topo.Node("garage")
	assert.Equal(t, "2.1 kW", garage.Display())

	assert.Equal(t, types.NewReading(2.1, types.UnitKW), topo.Home.Scaled(types.ChannelPrimaryInput))
	assert.Equal(t, types.NewReading(76, "%"), topo.Battery.Scaled(types.ChannelSecondary))

	topo.Update(types.States{})
	assert.Equal(t, "← - / → -", topo.Grid.Display())
	assert.Equal(t, "-", topo.Home.Display())
}

func TestThresholds(t *testing.T) {
	cfg := baseConfig()
	cfg.KiloThreshold = 10000
	cfg.MegaThreshold = 1e7
	cfg.GigaThreshold = 1e10
	topo := mustNew(t, cfg)
	states := baseStates()
	states["sensor.grid_import"] = types.State{Value: "5", Unit: "kW"}
	topo.Update(states)
	assert.Equal(t, "← 100 W / → 5000 W", topo.Grid.Display())

	assert.Equal(t, types.DefaultThresholds(), mustNew(t, types.CardConfig{}).Thresholds())
}

func TestPartialThresholds(t *testing.T) {
	cfg := baseConfig()
	cfg.Version = types.CurrentConfigVersion
	cfg.KiloThreshold = 10000
	topo := mustNew(t, cfg)
	assert.Equal(t, types.Thresholds{Kilo: 10000, Mega: 1e6, Giga: 1e9}, topo.Thresholds())

	states := baseStates()
	states["sensor.grid_import"] = types.State{Value: "50", Unit: "kW"}
	topo.Update(states)
	assert.Equal(t, types.NewReading(50, types.UnitKW), topo.Grid.Scaled(types.ChannelPrimaryOutput))
	assert.Equal(t, types.NewReading(100, types.UnitW), topo.Grid.Scaled(types.ChannelPrimaryInput))
}

func TestNotifications(t *testing.T) {
	topo := mustNew(t, baseConfig())

	t.Run("once per update", func(t *testing.T) {
		var calls int
		cancel := topo.Grid.Subscribe(func(n *Node) {
			assert.Equal(t, topo.Grid, n)
			calls++
		})
		topo.Grid.Update(baseStates())
		topo.Grid.Update(baseStates())
		assert.Equal(t, 2, calls)

		cancel()
		topo.Grid.Update(baseStates())
		assert.Equal(t, 2, calls)
	})

	t.Run("re-entrant update is replayed", func(t *testing.T) {
		var calls, depth, maxDepth int
		cancel := topo.Solar.Subscribe(func(n *Node) {
			depth++
			maxDepth = max(maxDepth, depth)
			calls++
			if calls == 1 {
				n.Update(baseStates())
			}
			depth--
		})
		defer cancel()
		topo.Solar.Update(baseStates())
		assert.Equal(t, 2, calls)
		assert.Equal(t, 1, maxDepth, "listeners must not be called recursively")
	})

	t.Run("runaway listener is bounded", func(t *testing.T) {
		var calls int
		cancel := topo.Battery.Subscribe(func(n *Node) {
			calls++
			n.Update(baseStates())
		})
		defer cancel()
		topo.Battery.Update(baseStates())
		assert.Equal(t, maxReplays, calls)
	})

	t.Run("topology subscribe", func(t *testing.T) {
		seen := map[string]int{}
		cancel := topo.Subscribe(func(n *Node) { seen[n.ID()]++ })
		topo.Update(baseStates())
		assert.Equal(t, map[string]int{IDGrid: 1, IDSolar: 1, IDBattery: 1, IDHome: 1}, seen)
		cancel()
		topo.Update(baseStates())
		assert.Equal(t, 1, seen[IDGrid])
	})
}

func TestWindowedReadings(t *testing.T) {
	ctx := context.Background()
	cfg := types.CardConfig{
		Solar: types.NodeConfig{PrimaryOutputEntity: "sensor.solar_energy", UsesDatePicker: true},
		Grid: types.NodeConfig{
			PrimaryInputEntity:  "sensor.grid_export_energy",
			PrimaryOutputEntity: "sensor.grid_import_energy",
			UsesDatePicker:      true,
			SecondaryEntity:     "sensor.grid_power",
		},
	}
	states := types.States{
		"sensor.solar_energy":       {Value: "1234", Unit: "kWh"},
		"sensor.grid_export_energy": {Value: "1", Unit: "kWh"},
		"sensor.grid_import_energy": {Value: "1", Unit: "Wh"},
		"sensor.grid_power":         {Value: "300", Unit: "W"},
	}

	db := &storagemock.MockDatabase{}
	agg := stats.NewAggregator(db, time.Second, nil)
	topo := mustNew(t, cfg)
	topo.Attach(agg)
	assert.Equal(t, 2, agg.Len())
	assert.ElementsMatch(t, []string{"sensor.solar_energy", "sensor.grid_export_energy", "sensor.grid_import_energy"}, topo.WindowedIDs())

	topo.Update(states)
	assert.False(t, topo.Solar.Output().Available, "no window result yet")
	assert.Equal(t, types.NewReading(300, types.UnitW), topo.Grid.Secondary())

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	sel := types.Selection{Start: start, End: start.Add(24 * time.Hour)}
	db.On("StatisticsDuringPeriod", mock.Anything, mock.Anything, mock.Anything, types.PeriodHour, mock.Anything).Return(types.Statistics{
		"sensor.solar_energy":       {{Start: start.Add(-time.Hour), Sum: 10}, {Start: start, Sum: 12.5}},
		"sensor.grid_import_energy": {{Start: start.Add(-time.Hour), Sum: 100}, {Start: start, Sum: 400}},
	}, nil).Once()
	require.NoError(t, agg.Trigger(ctx, sel))

	var notified int
	cancel := topo.Solar.Subscribe(func(*Node) { notified++ })
	defer cancel()
	assert.True(t, topo.PollStatistics())
	assert.Equal(t, 1, notified)
	assert.False(t, topo.PollStatistics(), "nothing pending")

	assert.Equal(t, types.NewReading(2500, types.UnitWh), topo.Solar.Output())
	assert.Equal(t, types.NewReading(300, types.UnitWh), topo.Grid.Output())
	assert.False(t, topo.Grid.Input().Available, "no statistics for export")

	topo.Detach(agg)
	assert.Equal(t, 0, agg.Len())
	topo.Refresh()
	assert.False(t, topo.Solar.Output().Available)
}
