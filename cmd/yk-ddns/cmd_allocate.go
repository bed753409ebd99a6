package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/allocator"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/config"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/metrics"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/reconcile"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/zone"
)

var allocateEnv = map[string]string{
	"config":    "YK_DDNS_CONFIG",
	"network":   "MACHINE_NETWORK",
	"prefix":    "MACHINE_PREFIX",
	"zone-id":   "CF_ZONE_ID",
	"api-token": "CLOUDFLARE_API_TOKEN",
}

func newCmdAllocate() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Generate machine IDs that are unique at the DNS provider",
		Long: `Draw <prefix>-<random letters> names under --network until one has no
AAAA record at the provider, then claim it with a placeholder record and write
a setup.sh exporting MACHINE_NET, MACHINE_ID and DDNS_HOST.

With --count greater than one, each device gets its own device-NN directory
under --output.`,
		Args: cobra.NoArgs,
		RunE: runAllocate,
	}

	f := cmd.Flags()
	f.String("config", "", "YAML provider configuration; the provider is picked with --provider")
	f.String("provider", "cloudflare", "provider name in --config, or provider kind without it")
	f.String("api-token", "", "Cloudflare API token used without --config")
	f.String("network", "", "domain machine names are created under")
	f.String("prefix", "", "fixed first part of every machine ID")
	f.Int("length", allocator.DefaultLabelLength, "number of random letters in a machine ID")
	f.String("zone-id", "", "provider zone identifier, skips the zone lookup")
	f.String("placeholder", allocator.DefaultPlaceholder, "AAAA value published for a claimed name")
	f.Int("count", 1, "number of machine IDs to allocate")
	f.String("output", "output", "directory setup.sh is written to")
	f.String("metrics-textfile", "", "write Prometheus metrics to this textfile-collector path")
	f.Duration("call-timeout", 0, "deadline for each provider call (default 5s)")
	return cmd
}

func runAllocate(cmd *cobra.Command, _ []string) error {
	log := ctrl.Log.WithName("allocate")
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	v, err := bindEnv(cmd, allocateEnv)
	if err != nil {
		return err
	}

	network := v.GetString("network")
	if network == "" {
		return fmt.Errorf("MACHINE_NETWORK not set: %w", dns.ErrConfiguration)
	}
	zoneName, err := dns.ZoneName(network)
	if err != nil {
		return fmt.Errorf("--network: %w", err)
	}
	req := allocator.Request{
		Zone:        dns.Zone{Name: zoneName},
		Network:     network,
		Prefix:      v.GetString("prefix"),
		LabelLength: v.GetInt("length"),
	}
	// Catch bad input before credentials or the network are touched.
	if err := allocator.Validate(req); err != nil {
		return err
	}

	p, zoneIDs, err := buildAllocatorProvider(v.GetString("config"), v.GetString("provider"), v.GetString("api-token"))
	if err != nil {
		return err
	}

	timeout := v.GetDuration("call-timeout")
	if timeout <= 0 {
		timeout = reconcile.DefaultCallTimeout
	}
	zoneID := v.GetString("zone-id")
	if zoneID == "" {
		zoneID = zoneIDs[zoneName]
	}
	if zoneID != "" {
		req.Zone = zone.Fixed(zoneID, zoneName)
	} else {
		lookupCtx, cancel := context.WithTimeout(ctx, timeout)
		z, err := zone.Lookup(lookupCtx, p, zoneName)
		cancel()
		if err != nil {
			return err
		}
		req.Zone = z
	}

	fmt.Fprintf(out, "Running Generator with following config:\n\tMACHINE_NETWORK: %s\n\tMACHINE_PREFIX: %s\n\tRANDOM LENGTH: %d\n\tCF ZONE ID: %s\n",
		network, req.Prefix, req.LabelLength, req.Zone.ID)

	rec := metrics.NewRecorder()
	engine := reconcile.NewEngine(ctrl.Log.WithName("reconcile"), reconcile.Options{
		CallTimeout: timeout,
		Progress:    out,
	})
	alloc := allocator.New(log, engine, allocator.Options{
		Placeholder: v.GetString("placeholder"),
		Metrics:     rec,
	})

	count := v.GetInt("count")
	ids, allocErr := alloc.AllocateN(ctx, p, req, count)

	base := v.GetString("output")
	for i, id := range ids {
		fmt.Fprintf(out, "GENERATED Machine ID: %s\n", id.Label)
		fmt.Fprintf(out, "GENERATED FQDN: %s\n", id.FQDN)

		dir := base
		if count > 1 {
			dir = allocator.DeviceDir(base, i+1, count)
		}
		path, err := allocator.WriteSetupScript(dir, id.Network, id)
		if err != nil {
			return err
		}
		log.V(1).Info("wrote setup script", "path", path)

		fmt.Fprintln(out, "Please add the following to your terminal profile file of the host machine:")
		fmt.Fprint(out, id.Exports())
	}
	if count > 1 && len(ids) > 0 {
		printIdentifiers(out, ids, base, count)
	}

	rec.Finished(time.Now())
	if path := v.GetString("metrics-textfile"); path != "" {
		if err := rec.WriteTextfile(path); err != nil {
			log.Error(err, "unable to write metrics textfile", "path", path)
		}
	}
	return allocErr
}

// buildAllocatorProvider returns the provider to allocate at and any pinned
// zone identifiers from the config.
func buildAllocatorProvider(configPath, name, token string) (dns.Provider, map[string]string, error) {
	if configPath == "" {
		p, err := dns.NewProvider(name, ctrl.Log.WithName("dns-"+name), fallbackSettings(name, token))
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	for _, pc := range cfg.Providers {
		if pc.Name != name {
			continue
		}
		p, err := dns.NewProvider(pc.Provider, ctrl.Log.WithName("dns-"+pc.Name), pc.Settings)
		if err != nil {
			return nil, nil, fmt.Errorf("provider %q: %w", pc.Name, err)
		}
		return p, pc.ZoneIDs, nil
	}
	return nil, nil, fmt.Errorf("provider %q not found in %s: %w", name, configPath, dns.ErrConfiguration)
}

func printIdentifiers(w io.Writer, ids []allocator.Identifier, base string, total int) {
	headerFmt := color.New(color.FgGreen, color.Underline).SprintfFunc()
	columnFmt := color.New(color.FgYellow).SprintfFunc()

	tbl := table.New("DEVICE", "MACHINE ID", "FQDN", "ATTEMPTS", "SETUP")
	tbl.WithHeaderFormatter(headerFmt).WithFirstColumnFormatter(columnFmt).WithWriter(w)
	for i, id := range ids {
		tbl.AddRow(strconv.Itoa(i+1), id.Label, id.FQDN, id.Attempts, allocator.DeviceDir(base, i+1, total))
	}
	tbl.Print()
}
