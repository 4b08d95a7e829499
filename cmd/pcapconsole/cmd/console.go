package cmd

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/netsentinel/pcapconsole/client"
)

// withClient opens the app for the duration of fn.
func withClient(cmd *cobra.Command, fn func(c *client.Client) error) error {
	a, err := openApp(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a.client)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show backend health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *client.Client) error {
			h, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), h, func(w io.Writer) error {
				pairs := [][2]string{
					{"Status", statusLabel(h.Status)},
					{"Version", h.Version},
					{"Uptime", h.Uptime},
				}
				for _, name := range slices.Sorted(maps.Keys(h.Components)) {
					pairs = append(pairs, [2]string{name, h.Components[name]})
				}
				return printFields(w, pairs...)
			})
		})
	},
}

var sensorsCmd = &cobra.Command{
	Use:   "sensors [id-or-name]",
	Short: "List sensors or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *client.Client) error {
			if len(args) == 1 {
				s, err := c.GetSensor(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), s, func(w io.Writer) error {
					return printFields(w,
						[2]string{"ID", s.ID},
						[2]string{"Name", s.Name},
						[2]string{"Site", s.Site},
						[2]string{"Status", statusLabel(s.Status)},
						[2]string{"Interfaces", strings.Join(s.Interfaces, ", ")},
						[2]string{"Capture rate", fmt.Sprintf("%.1f Mbps", s.CaptureRateMbps)},
						[2]string{"Disk used", fmt.Sprintf("%.0f%%", s.DiskUsedPct)},
						[2]string{"Last seen", formatTime(s.LastSeen)},
					)
				})
			}
			sensors, err := c.ListSensors(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), sensors, func(w io.Writer) error {
				rows := make([][]string, 0, len(sensors))
				for _, s := range sensors {
					rows = append(rows, []string{
						s.Name, s.Site, statusLabel(s.Status),
						fmt.Sprintf("%.1f", s.CaptureRateMbps),
						fmt.Sprintf("%.0f%%", s.DiskUsedPct),
						formatTime(s.LastSeen),
					})
				}
				return printTable(w, []string{"NAME", "SITE", "STATUS", "MBPS", "DISK", "LAST SEEN"}, rows)
			})
		})
	},
}

var networkSites []string

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Show the inter-site traffic topology",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *client.Client) error {
			t, err := c.NetworkTopology(cmd.Context(), networkSites...)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), t, func(w io.Writer) error {
				sites := make([][]string, 0, len(t.Sites))
				for _, s := range t.Sites {
					sites = append(sites, []string{
						s.Name,
						strconv.FormatFloat(s.Latitude, 'f', 2, 64),
						strconv.FormatFloat(s.Longitude, 'f', 2, 64),
						strconv.Itoa(s.Sensors),
					})
				}
				if err := printTable(w, []string{"SITE", "LAT", "LON", "SENSORS"}, sites); err != nil {
					return err
				}
				links := make([][]string, 0, len(t.Links))
				for _, l := range t.Links {
					links = append(links, []string{
						l.Source + " → " + l.Target,
						formatBytes(l.Bytes),
						strconv.FormatInt(l.Packets, 10),
					})
				}
				if err := printTable(w, []string{"LINK", "BYTES", "PACKETS"}, links); err != nil {
					return err
				}
				_, err := fmt.Fprintf(w, "generated %s\n", formatTime(t.GeneratedAt))
				return err
			})
		})
	},
}

// Jobs.

var (
	jobsStatus string
	jobsSensor string
	jobsLimit  int
	jobsOffset int

	submitName     string
	submitFilter   string
	submitSensors  []string
	submitStart    string
	submitDuration time.Duration
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage capture jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List capture jobs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *client.Client) error {
			list, err := c.ListJobs(cmd.Context(), client.JobFilter{
				Status: jobsStatus,
				Sensor: jobsSensor,
				Limit:  jobsLimit,
				Offset: jobsOffset,
			})
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), list, func(w io.Writer) error {
				rows := make([][]string, 0, len(list.Jobs))
				for _, j := range list.Jobs {
					rows = append(rows, []string{
						j.ID, j.Name, statusLabel(j.Status), j.Owner,
						formatTime(j.Start), formatBytes(j.BytesCaptured),
					})
				}
				if err := printTable(w, []string{"ID", "NAME", "STATUS", "OWNER", "START", "CAPTURED"}, rows); err != nil {
					return err
				}
				more := ""
				if list.HasMore {
					more = fmt.Sprintf(", next page --offset %d", list.Offset+len(list.Jobs))
				}
				_, err := fmt.Fprintf(w, "%d of %d jobs%s\n", len(list.Jobs), list.TotalCount, more)
				return err
			})
		})
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one capture job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *client.Client) error {
			j, err := c.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJob(cmd.OutOrStdout(), j)
		})
	},
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a capture job",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := client.JobRequest{
			Name:      submitName,
			Filter:    submitFilter,
			SensorIDs: submitSensors,
		}
		if submitStart != "" {
			start, err := time.Parse(time.RFC3339, submitStart)
			if err != nil {
				return fmt.Errorf("invalid --start, want RFC 3339: %w", err)
			}
			req.Start = start
		}
		if submitDuration > 0 {
			start := req.Start
			if start.IsZero() {
				start = time.Now()
			}
			req.End = start.Add(submitDuration)
		}
		return withClient(cmd, func(c *client.Client) error {
			j, err := c.SubmitJob(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJob(cmd.OutOrStdout(), j)
		})
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *client.Client) error {
			j, err := c.CancelJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJob(cmd.OutOrStdout(), j)
		})
	},
}

func printJob(w io.Writer, j *client.Job) error {
	return render(w, j, func(w io.Writer) error {
		pairs := [][2]string{
			{"ID", j.ID},
			{"Name", j.Name},
			{"Filter", j.Filter},
			{"Sensors", strings.Join(j.SensorIDs, ", ")},
			{"Status", statusLabel(j.Status)},
			{"Owner", j.Owner},
			{"Start", formatTime(j.Start)},
			{"End", formatTime(j.End)},
			{"Captured", formatBytes(j.BytesCaptured)},
		}
		if j.Error != "" {
			pairs = append(pairs, [2]string{"Error", j.Error})
		}
		return printFields(w, pairs...)
	})
}

func init() {
	rootCmd.AddCommand(healthCmd, sensorsCmd, networkCmd, jobsCmd)
	networkCmd.Flags().StringSliceVar(&networkSites, "site", nil, "Only show these sites and links between them")

	jobsCmd.AddCommand(jobsListCmd, jobsGetCmd, jobsSubmitCmd, jobsCancelCmd)
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status: queued, running, complete, failed, cancelled")
	jobsListCmd.Flags().StringVar(&jobsSensor, "sensor", "", "Filter by sensor ID")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 0, "Page size (server default when 0)")
	jobsListCmd.Flags().IntVar(&jobsOffset, "offset", 0, "Number of jobs to skip")

	jobsSubmitCmd.Flags().StringVar(&submitName, "name", "", "Job name")
	jobsSubmitCmd.Flags().StringVar(&submitFilter, "filter", "", "BPF capture filter")
	jobsSubmitCmd.Flags().StringSliceVar(&submitSensors, "sensor", nil, "Sensor IDs or names (repeatable)")
	jobsSubmitCmd.Flags().StringVar(&submitStart, "start", "", "Start time, RFC 3339 (default now)")
	jobsSubmitCmd.Flags().DurationVar(&submitDuration, "duration", 0, "Capture window (server default when 0)")
	_ = jobsSubmitCmd.MarkFlagRequired("name")
	_ = jobsSubmitCmd.MarkFlagRequired("filter")
	_ = jobsSubmitCmd.MarkFlagRequired("sensor")
}
