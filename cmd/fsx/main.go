package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/stratusworks/fsmux"
	"github.com/stratusworks/fsmux/cmd/flags"
	"github.com/stratusworks/fsmux/config"
	"github.com/stratusworks/fsmux/fs"
	"github.com/stratusworks/fsmux/httpserver"
)

var flagAs *cli.StringFlag = &cli.StringFlag{
	Name:  "as",
	Usage: "principal name to act as (defaults to the current user)",
}
var flagRecursive *cli.BoolFlag = &cli.BoolFlag{
	Name:    "recursive",
	Aliases: []string{"r"},
	Usage:   "delete directory contents recursively",
}
var flagOverwrite *cli.BoolFlag = &cli.BoolFlag{
	Name:    "overwrite",
	Aliases: []string{"f"},
	Usage:   "replace the destination if it already exists",
}
var flagServerAddr *cli.StringFlag = &cli.StringFlag{
	Name:  "server-addr",
	Value: "http://127.0.0.1:8080",
	Usage: "Diagnostics API address of a running agent",
}
var flagWaitTimeout *cli.DurationFlag = &cli.DurationFlag{
	Name:  "timeout",
	Value: time.Minute,
	Usage: "maximum time to wait for readiness",
}
var flagWaitInterval *cli.DurationFlag = &cli.DurationFlag{
	Name:  "interval",
	Value: time.Second,
	Usage: "polling interval",
}

func main() {
	app := &cli.App{
		Name:  "fsx",
		Usage: "Operate on files across the configured storage backends",
		Flags: append(append([]cli.Flag{}, flags.CommonFlags...), flagAs),
		Commands: []*cli.Command{
			&cli.Command{
				Name:  "ls",
				Usage: "List a directory (or a single file)",
				Action: func(cCtx *cli.Context) error {
					c, err := NewClientConfig(cCtx)
					if err != nil {
						return err
					}
					return c.List(cCtx.Context, uriArg(cCtx))
				},
			},
			&cli.Command{
				Name:  "stat",
				Usage: "Print file status as JSON",
				Action: func(cCtx *cli.Context) error {
					c, err := NewClientConfig(cCtx)
					if err != nil {
						return err
					}
					return c.Stat(cCtx.Context, uriArg(cCtx))
				},
			},
			&cli.Command{
				Name:  "cat",
				Usage: "Copy file contents to stdout",
				Action: func(cCtx *cli.Context) error {
					c, err := NewClientConfig(cCtx)
					if err != nil {
						return err
					}
					return c.Cat(cCtx.Context, uriArg(cCtx))
				},
			},
			&cli.Command{
				Name:  "get",
				Usage: "Download a file to a local path",
				Flags: []cli.Flag{flagOverwrite},
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 2 {
						return fmt.Errorf("expected <uri> and <local-path> arguments")
					}
					c, err := NewClientConfig(cCtx)
					if err != nil {
						return err
					}
					return c.Get(cCtx.Context, cCtx.Args().Get(0), cCtx.Args().Get(1), cCtx.Bool(flagOverwrite.Name))
				},
			},
			&cli.Command{
				Name:  "put",
				Usage: "Upload a local file",
				Flags: []cli.Flag{flagOverwrite},
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 2 {
						return fmt.Errorf("expected <local-path> and <uri> arguments")
					}
					c, err := NewClientConfig(cCtx)
					if err != nil {
						return err
					}
					return c.Put(cCtx.Context, cCtx.Args().Get(0), cCtx.Args().Get(1), cCtx.Bool(flagOverwrite.Name))
				},
			},
			&cli.Command{
				Name:  "mv",
				Usage: "Rename within a single backend",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 2 {
						return fmt.Errorf("expected <src> and <dst> arguments")
					}
					c, err := NewClientConfig(cCtx)
					if err != nil {
						return err
					}
					return c.Move(cCtx.Context, cCtx.Args().Get(0), cCtx.Args().Get(1))
				},
			},
			&cli.Command{
				Name:  "rm",
				Usage: "Delete a file or directory",
				Flags: []cli.Flag{flagRecursive},
				Action: func(cCtx *cli.Context) error {
					c, err := NewClientConfig(cCtx)
					if err != nil {
						return err
					}
					return c.Remove(cCtx.Context, uriArg(cCtx), cCtx.Bool(flagRecursive.Name))
				},
			},
			&cli.Command{
				Name:  "mkdir",
				Usage: "Create a directory and any missing parents",
				Action: func(cCtx *cli.Context) error {
					c, err := NewClientConfig(cCtx)
					if err != nil {
						return err
					}
					return c.Mkdir(cCtx.Context, uriArg(cCtx))
				},
			},
			&cli.Command{
				Name:  "du",
				Usage: "Print directory, file and byte counts below a path",
				Action: func(cCtx *cli.Context) error {
					c, err := NewClientConfig(cCtx)
					if err != nil {
						return err
					}
					return c.DiskUsage(cCtx.Context, uriArg(cCtx))
				},
			},
			&cli.Command{
				Name:  "glob",
				Usage: "List paths matching a wildcard pattern",
				Action: func(cCtx *cli.Context) error {
					c, err := NewClientConfig(cCtx)
					if err != nil {
						return err
					}
					return c.Glob(cCtx.Context, uriArg(cCtx))
				},
			},
			&cli.Command{
				Name:  "checksum",
				Usage: "Print the whole-file checksum",
				Action: func(cCtx *cli.Context) error {
					c, err := NewClientConfig(cCtx)
					if err != nil {
						return err
					}
					return c.Checksum(cCtx.Context, uriArg(cCtx))
				},
			},
			&cli.Command{
				Name:  "server",
				Usage: "Inspect and control a running agent",
				Flags: []cli.Flag{flagServerAddr},
				Subcommands: []*cli.Command{
					&cli.Command{
						Name:  "status",
						Usage: "Print liveness, build version and readiness",
						Action: func(cCtx *cli.Context) error {
							client := serverClient(cCtx)
							status, version, err := client.Liveness()
							if err != nil {
								return err
							}
							ready, err := client.Ready()
							if err != nil {
								return err
							}
							encoded, _ := json.Marshal(map[string]interface{}{
								"status":  status,
								"version": version,
								"ready":   ready,
							})
							fmt.Println(string(encoded))
							return nil
						},
					},
					&cli.Command{
						Name:  "stats",
						Usage: "Print per-scheme transfer counters",
						Action: func(cCtx *cli.Context) error {
							snaps, err := serverClient(cCtx).Stats()
							if err != nil {
								return err
							}
							encoded, _ := json.Marshal(snaps)
							fmt.Println(string(encoded))
							return nil
						},
					},
					&cli.Command{
						Name:  "reset",
						Usage: "Zero the byte counters on every backend",
						Action: func(cCtx *cli.Context) error {
							schemes, err := serverClient(cCtx).Reset()
							if err != nil {
								return err
							}
							encoded, _ := json.Marshal(map[string]interface{}{"schemes": schemes})
							fmt.Println(string(encoded))
							return nil
						},
					},
					&cli.Command{
						Name:  "drain",
						Usage: "Mark the agent not ready and release cached backends",
						Action: func(cCtx *cli.Context) error {
							state, err := serverClient(cCtx).Drain()
							if err != nil {
								return err
							}
							fmt.Println(state)
							return nil
						},
					},
					&cli.Command{
						Name:  "undrain",
						Usage: "Mark the agent ready again",
						Action: func(cCtx *cli.Context) error {
							state, err := serverClient(cCtx).Undrain()
							if err != nil {
								return err
							}
							fmt.Println(state)
							return nil
						},
					},
					&cli.Command{
						Name:  "wait",
						Usage: "Block until the agent reports ready",
						Flags: []cli.Flag{flagWaitTimeout, flagWaitInterval},
						Action: func(cCtx *cli.Context) error {
							return serverClient(cCtx).WaitUntilReady(
								cCtx.Duration(flagWaitTimeout.Name),
								cCtx.Duration(flagWaitInterval.Name),
							)
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// uriArg returns the single positional argument; the resolver reports the
// empty string as an error, so commands do not need their own NArg check.
func uriArg(cCtx *cli.Context) string {
	return cCtx.Args().First()
}

func serverClient(cCtx *cli.Context) *httpserver.Client {
	return httpserver.NewClient(cCtx.String(flagServerAddr.Name))
}

type Client struct {
	Mux       *fsmux.Mux
	Principal fs.Principal
}

func NewClientConfig(cCtx *cli.Context) (*Client, error) {
	cfg, err := flags.LoadConfig(cCtx)
	if err != nil {
		return nil, err
	}

	logger := flags.SetupLogger(cCtx, cfg)

	mux, err := config.BuildMux(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("could not build multiplexer: %w", err)
	}

	// A zero principal falls back to the identity configured on the mux,
	// which is the current OS user unless overridden.
	var principal fs.Principal
	if name := cCtx.String(flagAs.Name); name != "" {
		principal = fs.Principal{Name: name}
	}

	return &Client{Mux: mux, Principal: principal}, nil
}

func (c *Client) resolve(ctx context.Context, uri string) (*fsmux.Handle, fs.Path, error) {
	p, err := fs.ParsePath(uri)
	if err != nil {
		return nil, fs.Path{}, fmt.Errorf("could not parse %q: %w", uri, err)
	}

	h, err := c.Mux.ResolveHandle(ctx, p, c.Principal)
	if err != nil {
		return nil, fs.Path{}, err
	}
	return h, p, nil
}

func (c *Client) List(ctx context.Context, uri string) error {
	h, p, err := c.resolve(ctx, uri)
	if err != nil {
		return err
	}

	entries, err := h.List(ctx, p, nil)
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}
	for _, st := range entries {
		printStatus(st)
	}
	return nil
}

func (c *Client) Stat(ctx context.Context, uri string) error {
	h, p, err := c.resolve(ctx, uri)
	if err != nil {
		return err
	}

	st, err := h.Stat(ctx, p)
	if err != nil {
		return fmt.Errorf("stat failed: %w", err)
	}
	encoded, _ := json.Marshal(newFileStatusView(st))
	fmt.Println(string(encoded))
	return nil
}

func (c *Client) Cat(ctx context.Context, uri string) error {
	h, p, err := c.resolve(ctx, uri)
	if err != nil {
		return err
	}

	r, err := h.Open(ctx, p)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	defer r.Close()

	if _, err := io.Copy(os.Stdout, r); err != nil {
		return fmt.Errorf("read failed: %w", err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, uri, local string, overwrite bool) error {
	h, p, err := c.resolve(ctx, uri)
	if err != nil {
		return err
	}

	r, err := h.Open(ctx, p)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	defer r.Close()

	mode := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		mode = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(local, mode, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("download failed: %w", err)
	}
	return f.Close()
}

func (c *Client) Put(ctx context.Context, local, uri string, overwrite bool) error {
	h, p, err := c.resolve(ctx, uri)
	if err != nil {
		return err
	}

	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := h.Create(ctx, p, fs.CreateOptions{Overwrite: overwrite})
	if err != nil {
		return fmt.Errorf("create failed: %w", err)
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("upload failed: %w", err)
	}
	return w.Close()
}

func (c *Client) Move(ctx context.Context, srcURI, dstURI string) error {
	h, src, err := c.resolve(ctx, srcURI)
	if err != nil {
		return err
	}

	dst, err := fs.ParsePath(dstURI)
	if err != nil {
		return fmt.Errorf("could not parse %q: %w", dstURI, err)
	}

	if err := h.Rename(ctx, src, dst); err != nil {
		return fmt.Errorf("rename failed: %w", err)
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, uri string, recursive bool) error {
	h, p, err := c.resolve(ctx, uri)
	if err != nil {
		return err
	}

	ok, err := h.Delete(ctx, p, recursive)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("%s: no such file or directory", uri)
	}
	fmt.Println("deleted", uri)
	return nil
}

func (c *Client) Mkdir(ctx context.Context, uri string) error {
	h, p, err := c.resolve(ctx, uri)
	if err != nil {
		return err
	}

	if err := h.Mkdirs(ctx, p, fs.DefaultDirPerm); err != nil {
		return fmt.Errorf("mkdir failed: %w", err)
	}
	return nil
}

func (c *Client) DiskUsage(ctx context.Context, uri string) error {
	h, p, err := c.resolve(ctx, uri)
	if err != nil {
		return err
	}

	cs, err := h.ContentSummary(ctx, p)
	if err != nil {
		return fmt.Errorf("content summary failed: %w", err)
	}
	fmt.Printf("%d\t%d\t%d\t%s\n", cs.DirectoryCount, cs.FileCount, cs.Length, uri)
	return nil
}

func (c *Client) Glob(ctx context.Context, pattern string) error {
	h, p, err := c.resolve(ctx, pattern)
	if err != nil {
		return err
	}

	matches, err := h.Glob(ctx, p, nil)
	if err != nil {
		return fmt.Errorf("glob failed: %w", err)
	}
	for _, st := range matches {
		fmt.Println(st.Path.String())
	}
	return nil
}

func (c *Client) Checksum(ctx context.Context, uri string) error {
	h, p, err := c.resolve(ctx, uri)
	if err != nil {
		return err
	}

	sum, err := h.Checksum(ctx, p)
	if err != nil {
		return fmt.Errorf("checksum failed: %w", err)
	}
	fmt.Printf("%s\t%s\n", uri, sum.String())
	return nil
}

type fileStatusView struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	IsDir       bool      `json:"is_dir"`
	Replication int       `json:"replication"`
	BlockSize   int64     `json:"block_size"`
	ModTime     time.Time `json:"mod_time"`
	AccessTime  time.Time `json:"access_time"`
	Perm        string    `json:"perm"`
	Owner       string    `json:"owner,omitempty"`
	Group       string    `json:"group,omitempty"`
}

func newFileStatusView(st fs.FileStatus) fileStatusView {
	return fileStatusView{
		Path:        st.Path.String(),
		Size:        st.Size,
		IsDir:       st.IsDir,
		Replication: st.Replication,
		BlockSize:   st.BlockSize,
		ModTime:     st.ModTime,
		AccessTime:  st.AccessTime,
		Perm:        fmt.Sprintf("%#o", st.Perm.Perm()),
		Owner:       st.Owner,
		Group:       st.Group,
	}
}

// printStatus writes one listing line: type and permissions, replication,
// owner, group, size, modification time, fully qualified path.
func printStatus(st fs.FileStatus) {
	typ := "-"
	repl := "-"
	if st.IsDir {
		typ = "d"
	} else if st.Replication > 0 {
		repl = strconv.Itoa(st.Replication)
	}
	fmt.Printf("%s%s %3s %-8s %-8s %12d %s %s\n",
		typ, st.Perm.Perm().String()[1:], repl, st.Owner, st.Group,
		st.Size, st.ModTime.Format("2006-01-02 15:04"), st.Path.String())
}
