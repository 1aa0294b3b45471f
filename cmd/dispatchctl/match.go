package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/dispatch-console/internal/geo"
	"github.com/example/dispatch-console/internal/matcher"
	"github.com/example/dispatch-console/internal/models"
)

type matchOptions struct {
	fleetFile  string
	policyFile string
	policy     string
	distance   float64
	duration   float64
	lat, lon   float64
	topN       int
}

func newMatchCmd() *cobra.Command {
	o := &matchOptions{}
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Rank a fleet file for a trip",
		Long: `Loads drivers from a YAML fleet file, measures their distance to the
pickup point and prints suitability verdicts, best candidate first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error { return runMatch(cmd, o) },
	}
	f := cmd.Flags()
	f.StringVar(&o.fleetFile, "fleet", "", "fleet YAML file (required)")
	f.StringVar(&o.policyFile, "policy-file", "", "policy YAML file with thresholds and weights")
	f.StringVar(&o.policy, "policy", "", "suitability policy: bands or range (default from policy file)")
	f.Float64Var(&o.distance, "distance", 5, "trip distance in km")
	f.Float64Var(&o.duration, "duration", 0, "estimated trip duration in minutes")
	f.Float64Var(&o.lat, "lat", 0.3136, "pickup latitude")
	f.Float64Var(&o.lon, "lon", 32.5811, "pickup longitude")
	f.IntVar(&o.topN, "top", 10, "number of nearest drivers to rank")
	_ = cmd.MarkFlagRequired("fleet")
	return cmd
}

func runMatch(cmd *cobra.Command, o *matchOptions) error {
	fleet, err := geo.LoadFleet(o.fleetFile)
	if err != nil {
		return err
	}
	pf := matcher.DefaultPolicyFile()
	if o.policyFile != "" {
		if pf, err = matcher.LoadPolicyFile(o.policyFile); err != nil {
			return err
		}
	}
	name := pf.Policy
	if o.policy != "" {
		name = o.policy
	}
	policy, err := matcher.PolicyByName(name, pf)
	if err != nil {
		return err
	}

	idx := geo.NewIndex()
	if err := fleet.Seed(cmd.Context(), idx); err != nil {
		return err
	}
	svc := &matcher.Service{Pool: idx, Engine: matcher.NewEngine(policy, pf.Weights, nil), TopN: o.topN}
	res, err := svc.Match(cmd.Context(), models.Coord{Lat: o.lat, Lon: o.lon}, models.TripParams{DistanceKm: o.distance, EstDurationMin: o.duration})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if res.NoDrivers() {
		fmt.Fprintln(out, "no drivers online")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DRIVER\tINCLUDED\tSCORE\tREASON")
	for _, v := range res.Verdicts {
		fmt.Fprintf(tw, "%s\t%t\t%.2f\t%s\n", v.DriverID, v.Included, v.Score, v.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if res.NoSuitable() {
		fmt.Fprintln(out, "no suitable driver")
	} else {
		fmt.Fprintf(out, "default: %s\n", res.Default)
	}
	return nil
}
