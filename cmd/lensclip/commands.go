package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/menta2k/lensclip"
	"github.com/menta2k/lensclip/internal/config"
	"github.com/menta2k/lensclip/internal/store"
	"github.com/menta2k/lensclip/internal/utils"
	"github.com/menta2k/lensclip/pkg/types"
)

func ingestCommand(a *app) *cobra.Command {
	var owner string
	var lat, lon float64
	var analyze bool

	cmd := &cobra.Command{
		Use:   "ingest <image|dir>...",
		Short: "Store photos as new observations",
		Long:  "Store photos as new observations. Directories are scanned for jpg, png and webp files.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := expandInputs(args)
			if err != nil {
				return err
			}
			var loc *types.Location
			if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon") {
				loc = &types.Location{Latitude: lat, Longitude: lon}
			}

			ctx := cmd.Context()
			return a.withService(ctx, func(svc *lensclip.Service) error {
				for _, f := range files {
					data, err := os.ReadFile(f)
					if err != nil {
						return fmt.Errorf("failed to read %s: %w", f, err)
					}
					obs, err := svc.CreateObservation(ctx, lensclip.Upload{OwnerID: owner, Data: data, Location: loc})
					if err != nil {
						return fmt.Errorf("failed to ingest %s: %w", f, err)
					}
					if analyze {
						if err := svc.Analyze(ctx, obs.ID); err != nil {
							return err
						}
						if obs, err = svc.GetObservation(ctx, obs.ID); err != nil {
							return err
						}
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", obs.ID, obs.Status, f, utils.FormatFileSize(int64(len(data))))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "local", "owner id of the observations")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude reported when the photo carries no GPS")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude reported when the photo carries no GPS")
	cmd.Flags().BoolVar(&analyze, "analyze", true, "run the analysis before returning")
	return cmd
}

func expandInputs(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		found, err := utils.ListImageFiles(arg)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, errors.New("no image files found")
	}
	return files, nil
}

func analyzeCommand(a *app) *cobra.Command {
	var overlay string
	cmd := &cobra.Command{
		Use:   "analyze <id>",
		Short: "Run the analysis of a processing observation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(svc *lensclip.Service) error {
				if err := svc.Analyze(ctx, args[0]); err != nil {
					return err
				}
				if err := showObservation(ctx, svc, args[0]); err != nil {
					return err
				}
				if overlay == "" {
					return nil
				}
				png, err := svc.DebugOverlay(ctx, args[0])
				if err != nil {
					return err
				}
				if err := os.WriteFile(overlay, png, 0o644); err != nil {
					return fmt.Errorf("write overlay: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "overlay written to %s\n", overlay)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&overlay, "debug-overlay", "", "write the original image with the selected box drawn on it as PNG")
	return cmd
}

func retryCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Re-run the analysis of a failed observation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(svc *lensclip.Service) error {
				if err := svc.Retry(ctx, args[0]); err != nil {
					return err
				}
				if err := svc.Analyze(ctx, args[0]); err != nil {
					return err
				}
				return showObservation(ctx, svc, args[0])
			})
		},
	}
}

func showObservation(ctx context.Context, svc *lensclip.Service, id string) error {
	obs, err := svc.GetObservation(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(obs)
}

func showCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print an observation as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *lensclip.Service) error {
				return showObservation(cmd.Context(), svc, args[0])
			})
		},
	}
}

func listCommand(a *app) *cobra.Command {
	var f store.Filter
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List observations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				f.Status = types.Status(status)
				if !f.Status.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
			}
			return a.withService(cmd.Context(), func(svc *lensclip.Service) error {
				all, err := svc.ListObservations(cmd.Context(), f)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, o := range all {
					title := ""
					if o.Identification != nil {
						title = o.Identification.Title
					}
					fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n", o.ID, o.CreatedAt.Format(time.RFC3339), o.Status, o.Category, title)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.OwnerID, "owner", "", "only observations of this owner")
	cmd.Flags().StringVar(&status, "status", "", "processing, ready or failed")
	cmd.Flags().StringVar(&f.Category, "category", "", "only observations in this category")
	cmd.Flags().StringVar(&f.Tag, "tag", "", "only observations with this tag")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum number of rows, 0 for all")
	return cmd
}

func deleteCommand(a *app) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "delete [id]...",
		Short: "Delete observations and the tags they leave unused",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" && len(args) == 0 {
				return errors.New("pass observation ids or --all-of <owner>")
			}
			ctx := cmd.Context()
			return a.withService(ctx, func(svc *lensclip.Service) error {
				if owner != "" {
					n, err := svc.DeleteAll(ctx, owner)
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %d observations\n", n)
					return err
				}
				for _, id := range args {
					if err := svc.Delete(ctx, id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "all-of", "", "delete every observation of this owner")
	return cmd
}

func tagsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tags <id> [tag]...",
		Short: "Replace the tags of an observation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(svc *lensclip.Service) error {
				if err := svc.UpdateTags(ctx, args[0], args[1:]); err != nil {
					return err
				}
				return showObservation(ctx, svc, args[0])
			})
		},
	}
}

func categoryCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "category <id> <category>",
		Short: "Change the category of an observation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *lensclip.Service) error {
				return svc.UpdateCategory(cmd.Context(), args[0], args[1])
			})
		},
	}
}

func narrateCommand(a *app) *cobra.Command {
	var out string
	var rate float64

	cmd := &cobra.Command{
		Use:   "narrate <text>",
		Short: "Synthesize narration audio, served from the cache when possible",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r *float64
			if cmd.Flags().Changed("rate") {
				r = &rate
			}
			return a.withService(cmd.Context(), func(svc *lensclip.Service) error {
				res, err := svc.Narrate(cmd.Context(), args[0], r)
				if err != nil {
					return err
				}
				if out == "" {
					out = filepath.Base(res.Path)
				}
				if err := os.WriteFile(out, res.Audio, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tcache_hit=%t\t%s\n", out, res.CacheHit, utils.FormatFileSize(int64(len(res.Audio))))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default <key>.mp3)")
	cmd.Flags().Float64Var(&rate, "rate", 0, "speaking rate (default narration.rate)")
	return cmd
}

func narrationCleanupCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "narration-cleanup",
		Short: "Delete expired narration audio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *lensclip.Service) error {
				n, err := svc.CleanupNarration(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired narration files\n", n)
				return nil
			})
		},
	}
}

func modelCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Show or change the identification model",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the active identification model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *lensclip.Service) error {
				m, err := svc.Model(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), m)
				return nil
			})
		},
	}, &cobra.Command{
		Use:   "set <model>",
		Short: "Change the identification model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *lensclip.Service) error {
				return svc.SetModel(cmd.Context(), args[0])
			})
		},
	})
	return cmd
}

func workerCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the analysis workers until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withService(ctx, func(svc *lensclip.Service) error {
				if m := svc.Metrics(); m != nil {
					mux := http.NewServeMux()
					mux.Handle("/metrics", m.Handler())
					srv := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
					go func() {
						a.logger.Info("serving metrics", "listen", srv.Addr)
						if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							a.logger.Error("metrics server stopped", "error", err)
						}
					}()
					defer func() {
						shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
						defer cancel()
						_ = srv.Shutdown(shutdownCtx)
					}()
				}

				svc.Start(ctx)
				a.logger.Info("worker running, press Ctrl+C to stop")
				<-ctx.Done()
				a.logger.Info("shutting down", "stats", fmt.Sprintf("%+v", svc.QueueStats()))
				return nil
			})
		},
	}
}

func configCommand(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if path == "" {
				path = config.GetConfigPath()
			}
			if utils.FileExists(path) && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := config.Default().SaveToFile(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}
