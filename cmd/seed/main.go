package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/config"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/graph"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/hass"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/log"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/storage"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

func main() {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	}
	s := storage.Configured()
	hc := hass.Configured()
	configPath := lflag.RequiredString("card-config", "Path to the card YAML config whose statistics are seeded")
	source := lflag.String("seed-source", "simulate", "Where buckets come from (available: simulate, hass)")
	span := lflag.Duration("seed-span", 72*time.Hour, "How far back to seed")
	lflag.Configure()

	ctx := log.Component(context.Background(), "seed")

	if !s.Enabled() {
		log.Ctx(ctx).ErrorContext(ctx, "storage-provider is required")
		os.Exit(1)
	}
	defer s.Close()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load card config", slog.Any("error", err))
		os.Exit(1)
	}
	topo, err := graph.New(cfg)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid card config", slog.Any("error", err))
		os.Exit(1)
	}

	now := time.Now().UTC().Truncate(time.Hour)
	start := now.Add(-*span)

	switch *source {
	case "simulate":
		err = simulate(ctx, s, topo, start, now)
	case "hass":
		if !hc.Enabled() {
			log.Ctx(ctx).ErrorContext(ctx, "hass-token is required to import statistics")
			os.Exit(1)
		}
		err = importFromHass(ctx, hc, s, topo.WindowedIDs(), start, now)
	default:
		err = fmt.Errorf("unknown seed source: %s", *source)
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "seeding failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "seeding complete")
}

// importFromHass copies hourly statistics into storage. Each statistic
// resumes at its newest stored bucket so reruns only fetch what is missing.
func importFromHass(ctx context.Context, hc *hass.Client, s *storage.Provider, ids []string, start, end time.Time) error {
	if err := hc.Connect(ctx); err != nil {
		return err
	}
	defer hc.Close()

	for _, id := range ids {
		from := start
		latest, err := s.GetLatestBucketTime(ctx, id)
		if err != nil {
			return err
		}
		if latest.After(from) {
			from = latest
		}
		if !from.Before(end) {
			continue
		}
		stats, err := hc.StatisticsDuringPeriod(ctx, from, end, types.PeriodHour, []string{id})
		if err != nil {
			return fmt.Errorf("failed to fetch statistics of %s: %w", id, err)
		}
		buckets := stats[id]
		if err := s.UpsertBuckets(ctx, id, buckets); err != nil {
			return err
		}
		log.Ctx(ctx).InfoContext(ctx, "imported statistic", slog.String("id", id), slog.Int("buckets", len(buckets)), slog.Time("from", from))
	}
	return nil
}

// simulate writes a plausible house for every hour between start and end:
// a bell curve of solar, a home load with morning and evening peaks and a
// battery that soaks up surplus and covers deficits.
func simulate(ctx context.Context, s *storage.Provider, topo *graph.Topology, start, end time.Time) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	const (
		BatteryCapacityKWH = 13.5
		MaxBatteryKW       = 5.0
		HomeAvgKW          = 0.8
		SolarPeakKW        = 6.0
	)
	currentSOC := 40.0

	var (
		gridImport, gridExport, solar, charge, discharge []types.Bucket
		subHomes                                         = make(map[string][]types.Bucket)
		sums                                             = make(map[string]float64)
	)
	add := func(dst []types.Bucket, key string, t time.Time, kwh float64) []types.Bucket {
		sums[key] += kwh
		return append(dst, types.Bucket{
			Start: t,
			End:   t.Add(time.Hour),
			Sum:   sums[key],
			State: kwh,
		})
	}

	for t := start; t.Before(end); t = t.Add(time.Hour) {
		hour := t.Hour()

		solarKW := 0.0
		if hour > 6 && hour < 19 {
			dist := math.Abs(float64(hour) - 13.0)
			solarKW = SolarPeakKW * math.Exp(-(dist*dist)/12.0)
		}

		homeKW := HomeAvgKW + rng.Float64()*0.5
		if hour >= 7 && hour < 9 {
			homeKW += 1.5
		} else if hour >= 18 && hour < 22 {
			homeKW += 2.5
		}

		var chargeKW, dischargeKW, importKW, exportKW float64
		net := solarKW - homeKW
		if net > 0 {
			room := (100 - currentSOC) / 100 * BatteryCapacityKWH
			chargeKW = min(net, MaxBatteryKW, room)
			exportKW = net - chargeKW
		} else {
			avail := currentSOC / 100 * BatteryCapacityKWH
			dischargeKW = min(-net, MaxBatteryKW, avail)
			importKW = -net - dischargeKW
		}
		currentSOC += (chargeKW - dischargeKW) / BatteryCapacityKWH * 100

		gridImport = add(gridImport, "grid_import", t, importKW)
		gridExport = add(gridExport, "grid_export", t, exportKW)
		solar = add(solar, "solar", t, solarKW)
		charge = add(charge, "charge", t, chargeKW)
		discharge = add(discharge, "discharge", t, dischargeKW)
		for i, n := range topo.SubHomes() {
			share := homeKW * (0.1 + 0.05*float64(i%4))
			subHomes[n.ID()] = add(subHomes[n.ID()], n.ID(), t, share)
		}
	}

	writes := make(map[string][]types.Bucket)
	for _, n := range topo.Nodes() {
		in := n.EntityID(types.ChannelPrimaryInput)
		out := n.EntityID(types.ChannelPrimaryOutput)
		switch n.Kind() {
		case types.NodeKindGrid:
			// the grid outputs what the house imports
			writes[out] = gridImport
			writes[in] = gridExport
		case types.NodeKindSolar:
			writes[out] = solar
		case types.NodeKindBattery:
			writes[in] = charge
			writes[out] = discharge
		case types.NodeKindSubHome:
			writes[in] = subHomes[n.ID()]
		}
	}

	for id, buckets := range writes {
		if id == "" || len(buckets) == 0 {
			continue
		}
		if err := s.UpsertBuckets(ctx, id, buckets); err != nil {
			return err
		}
		log.Ctx(ctx).InfoContext(ctx, "seeded statistic", slog.String("id", id), slog.Int("buckets", len(buckets)))
	}
	return nil
}
