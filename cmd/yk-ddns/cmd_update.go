package main

import (
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/batch"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/config"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/ipdiscovery"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/metrics"
	"github.com/yuriy-kovalchuk/yk-ddns/internal/reconcile"
)

var updateEnv = map[string]string{
	"config":     "YK_DDNS_CONFIG",
	"host":       "DDNS_HOST",
	"api-token":  "CLOUDFLARE_API_TOKEN",
	"address":    "YK_DDNS_ADDRESS",
	"hosts-file": "YK_DDNS_HOSTS_FILE",
}

func newCmdUpdate() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Point every configured host's AAAA record at this machine",
		Long: `Discover this machine's public IPv6 address (or take --address) and
reconcile the AAAA record of every configured host onto it.

Hosts come from --config, from --hosts-file together with --provider, or from
a single --host on Cloudflare. The command exits non-zero when any host could
not be reconciled.`,
		Args: cobra.NoArgs,
		RunE: runUpdate,
	}

	f := cmd.Flags()
	f.String("config", "", "YAML file mapping providers to zones and hosts")
	f.String("hosts-file", "", "plain host list, one FQDN per line (requires --provider)")
	f.String("provider", "cloudflare", "provider kind used with --hosts-file or --host")
	f.String("host", "", "single FQDN to update on Cloudflare when no config is given")
	f.String("api-token", "", "Cloudflare API token used with --hosts-file or --host")
	f.String("address", "", "IPv6 address to publish instead of discovering it")
	f.StringArray("ip-source", nil, "address echo service URL, repeatable (default: built-in list)")
	f.String("report", "", "write a JSON outcome report to this path (- for stdout)")
	f.String("metrics-textfile", "", "write Prometheus metrics to this textfile-collector path")
	f.Bool("parallel", false, "reconcile providers concurrently")
	f.Int("retries", 0, "attempts per host on transient errors (default 3)")
	f.Duration("call-timeout", 0, "deadline for each provider call (default 5s)")
	f.Int("ttl", 0, "TTL for created records in seconds (default 60)")
	f.Bool("table", false, "print a table of outcomes after the run")
	return cmd
}

func runUpdate(cmd *cobra.Command, _ []string) error {
	log := ctrl.Log.WithName("update")
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	v, err := bindEnv(cmd, updateEnv)
	if err != nil {
		return err
	}

	defaults, targets, err := buildTargets(v.GetString("config"), v.GetString("hosts-file"), v.GetString("host"), v.GetString("provider"), v.GetString("api-token"))
	if err != nil {
		return err
	}
	applyFlagDefaults(cmd, &defaults)

	addr, err := resolveAddress(cmd, v.GetString("address"))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "MY IP: %s\n", addr)

	rec := metrics.NewRecorder()
	engine := reconcile.NewEngine(ctrl.Log.WithName("reconcile"), reconcile.Options{
		TTL:         defaults.TTL,
		CallTimeout: defaults.CallTimeout,
		Progress:    out,
	})
	orch := batch.New(ctrl.Log.WithName("batch"), engine, batch.Options{
		Retries:     defaults.Retries,
		Parallel:    defaults.Parallel,
		CallTimeout: defaults.CallTimeout,
		Metrics:     rec,
	})

	start := time.Now()
	res := orch.Run(ctx, targets, addr.String())
	log.Info("run finished",
		"created", res.Count(reconcile.ActionCreated),
		"updated", res.Count(reconcile.ActionUpdated),
		"unchanged", res.Count(reconcile.ActionUnchanged),
		"failed", res.Count(reconcile.ActionFailed),
		"providerErrors", len(res.ProviderErrors),
		"elapsed", time.Since(start).String())

	if path := v.GetString("report"); path != "" {
		if err := writeReport(path, out, res); err != nil {
			log.Error(err, "unable to write report", "path", path)
		}
	}
	if path := v.GetString("metrics-textfile"); path != "" {
		if err := rec.WriteTextfile(path); err != nil {
			log.Error(err, "unable to write metrics textfile", "path", path)
		}
	}
	if v.GetBool("table") {
		printOutcomes(out, res)
	}

	if res.Failed() {
		if err := res.WriteSummary(cmd.ErrOrStderr()); err != nil {
			return err
		}
		return errRunFailed
	}
	return nil
}

// buildTargets turns the configured sources of hosts into orchestrator
// targets. A config file takes precedence over a hosts file, which takes
// precedence over a single host.
func buildTargets(configPath, hostsFile, host, kind, token string) (config.Defaults, []batch.Target, error) {
	var cfg *config.Config
	switch {
	case configPath != "":
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return config.Defaults{}, nil, err
		}
		cfg = loaded
	case hostsFile != "":
		zones, err := config.LoadHostsFile(hostsFile)
		if err != nil {
			return config.Defaults{}, nil, err
		}
		cfg = &config.Config{Providers: []config.ProviderConfig{{
			Name:     kind,
			Provider: kind,
			Settings: fallbackSettings(kind, token),
			Zones:    zones,
		}}}
	case host != "":
		zoneName, err := dns.ZoneName(host)
		if err != nil {
			return config.Defaults{}, nil, fmt.Errorf("--host: %w", err)
		}
		cfg = &config.Config{Providers: []config.ProviderConfig{{
			Name:     kind,
			Provider: kind,
			Settings: fallbackSettings(kind, token),
			Zones:    config.ZoneList{{Zone: zoneName, Hosts: []string{host}}},
		}}}
		if err := cfg.Validate(); err != nil {
			return config.Defaults{}, nil, err
		}
	default:
		return config.Defaults{}, nil, fmt.Errorf("one of --config, --hosts-file or --host is required: %w", dns.ErrConfiguration)
	}

	targets := make([]batch.Target, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := dns.NewProvider(pc.Provider, ctrl.Log.WithName("dns-"+pc.Name), pc.Settings)
		if err != nil {
			return config.Defaults{}, nil, fmt.Errorf("provider %q: %w", pc.Name, err)
		}
		targets = append(targets, batch.Target{
			Name:     pc.Name,
			Provider: p,
			Zones:    pc.Zones,
			ZoneIDs:  pc.ZoneIDs,
		})
	}
	return cfg.Defaults, targets, nil
}

func fallbackSettings(kind, token string) map[string]string {
	if kind == "cloudflare" && token != "" {
		return map[string]string{"api_token": token}
	}
	return map[string]string{}
}

// applyFlagDefaults lets flags given on the command line override the
// config file's run defaults.
func applyFlagDefaults(cmd *cobra.Command, d *config.Defaults) {
	f := cmd.Flags()
	if f.Changed("ttl") {
		d.TTL, _ = f.GetInt("ttl")
	}
	if f.Changed("call-timeout") {
		d.CallTimeout, _ = f.GetDuration("call-timeout")
	}
	if f.Changed("retries") {
		d.Retries, _ = f.GetInt("retries")
	}
	if f.Changed("parallel") {
		d.Parallel, _ = f.GetBool("parallel")
	}
}

func resolveAddress(cmd *cobra.Command, given string) (netip.Addr, error) {
	if given != "" {
		addr, err := ipdiscovery.Parse(given)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("--address: %w", err)
		}
		return addr, nil
	}
	sources, _ := cmd.Flags().GetStringArray("ip-source")
	d := ipdiscovery.New(ctrl.Log.WithName("ipdiscovery"), sources, 0)
	return d.Discover(cmd.Context())
}

func writeReport(path string, stdout io.Writer, res *batch.Result) error {
	if path == "-" {
		return res.WriteJSON(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := res.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printOutcomes(w io.Writer, res *batch.Result) {
	headerFmt := color.New(color.FgGreen, color.Underline).SprintfFunc()
	columnFmt := color.New(color.FgYellow).SprintfFunc()

	tbl := table.New("PROVIDER", "HOST", "ACTION", "VALUE", "DETAIL")
	tbl.WithHeaderFormatter(headerFmt).WithFirstColumnFormatter(columnFmt).WithWriter(w)
	for _, o := range res.Outcomes {
		detail := o.Reason
		if o.Action == reconcile.ActionUpdated {
			detail = fmt.Sprintf("was %v", o.Previous)
		}
		tbl.AddRow(o.Provider, o.Name, string(o.Action), o.Value, detail)
	}
	for _, pe := range res.ProviderErrors {
		tbl.AddRow(pe.Provider, "*", "aborted", "", pe.Err.Error())
	}
	tbl.Print()
}
