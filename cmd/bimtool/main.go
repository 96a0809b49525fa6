// bimtool is a CLI utility for inspecting viewer model assets and emulated XR devices.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Faultbox/bimview/internal/assets"
	"github.com/Faultbox/bimview/internal/config"
	"github.com/Faultbox/bimview/internal/engine/runloop"
	"github.com/Faultbox/bimview/internal/engine/scene"
	"github.com/Faultbox/bimview/internal/model"
	"github.com/Faultbox/bimview/internal/xr"
	"github.com/Faultbox/bimview/internal/xr/emulator"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "info":
		err = cmdInfo(args)
	case "elements", "ls":
		err = cmdElements(args)
	case "props":
		err = cmdProps(args)
	case "probe":
		err = cmdProbe(args)
	case "profiles":
		cmdProfiles()
	case "config":
		err = cmdConfig(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`bimtool - model asset and XR device utility

Usage:
  bimtool <command> [options]

Commands:
  info <model-url>                   Show model summary
  elements <model-url> [prefix]      List tagged elements
  props <model-url> <element-id>     Show the normalized record of an element
  probe [-profile name|file.yaml]    Report XR mode support of an emulated device
  profiles                           List built-in device profiles
  config [path]                      Write the default viewer config

Model URLs may be local paths, file://, http(s):// or s3:// URLs.

Examples:
  bimtool info ./site.glb
  bimtool elements https://models.example.com/plant.glb Pump
  bimtool props s3://models/plant.glb 2O2Fr$t4X7Zf8NOew3FLOH
  bimtool probe -profile hololens`)
}

func loadModel(ctx context.Context, rawURL string) (*model.Loader, *model.Model, error) {
	mgr, err := assets.NewManager(assets.Options{})
	if err != nil {
		return nil, nil, err
	}
	httpSrc := assets.NewHTTPSource(30 * time.Second)
	mgr.Register("http", httpSrc)
	mgr.Register("https", httpSrc)
	if strings.HasPrefix(rawURL, "s3://") {
		src, err := assets.NewS3Source(ctx, assets.S3Config{
			Region:    os.Getenv("AWS_REGION"),
			Endpoint:  os.Getenv("BIMVIEW_S3_ENDPOINT"),
			PathStyle: os.Getenv("BIMVIEW_S3_ENDPOINT") != "",
		})
		if err != nil {
			return nil, nil, err
		}
		mgr.Register("s3", src)
	}

	loader := model.NewLoader(mgr, model.Options{})
	m, err := loader.Load(ctx, model.NewAsset(rawURL))
	if err != nil {
		return nil, nil, err
	}
	loader.Install(m)
	return loader, m, nil
}

func cmdInfo(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: bimtool info <model-url>")
	}
	_, m, err := loadModel(context.Background(), args[0])
	if err != nil {
		return err
	}

	var nodes, meshes, triangles int
	m.Root.Walk(func(n *scene.Node) bool {
		nodes++
		if n.Geometry != nil {
			meshes++
			triangles += n.Geometry.TriangleCount()
		}
		return true
	})
	box := m.Root.WorldBounds()
	size := box.Size()

	fmt.Printf("Model: %s\n", m.Asset.Name())
	fmt.Printf("Source: %s\n", m.Asset.SourceURL)
	fmt.Printf("Format: %s\n", m.Asset.Format)
	fmt.Printf("Elements: %d\n", m.Index.Len())
	fmt.Printf("Nodes: %d (%d meshes, %d triangles)\n", nodes, meshes, triangles)
	fmt.Printf("Bounds: min (%.3f, %.3f, %.3f) max (%.3f, %.3f, %.3f)\n",
		box.Min[0], box.Min[1], box.Min[2], box.Max[0], box.Max[1], box.Max[2])
	fmt.Printf("Size: %.3f x %.3f x %.3f\n", size[0], size[1], size[2])
	return nil
}

func cmdElements(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: bimtool elements <model-url> [prefix]")
	}
	loader, m, err := loadModel(context.Background(), args[0])
	if err != nil {
		return err
	}
	prefix := ""
	if len(args) > 1 {
		prefix = args[1]
	}

	count := 0
	for _, id := range m.Index.IDs() {
		rec, err := loader.ElementProperties(id)
		if err != nil {
			return err
		}
		if prefix != "" && !strings.HasPrefix(id, prefix) && !strings.HasPrefix(rec.DisplayName, prefix) {
			continue
		}
		fmt.Printf("%-24s %-20s %-9s %s\n", id, rec.ElementType, rec.Status, rec.DisplayName)
		count++
	}
	fmt.Printf("\n%d of %d elements\n", count, m.Index.Len())
	return nil
}

func cmdProps(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: bimtool props <model-url> <element-id>")
	}
	loader, _, err := loadModel(context.Background(), args[0])
	if err != nil {
		return err
	}
	rec, err := loader.ElementProperties(args[1])
	if err != nil {
		return err
	}

	fmt.Printf("Element: %s\n", rec.ElementID)
	fmt.Printf("Name: %s\n", rec.DisplayName)
	fmt.Printf("Type: %s\n", rec.ElementType)
	fmt.Printf("Status: %s\n", rec.Status)
	if rec.MaintenanceNotes != "" {
		fmt.Printf("Notes: %s\n", rec.MaintenanceNotes)
	}
	if rec.LastInspection != nil {
		fmt.Printf("Last inspection: %s\n", rec.LastInspection.Format(time.DateOnly))
	}
	if rec.NextInspection != nil {
		fmt.Printf("Next inspection: %s\n", rec.NextInspection.Format(time.DateOnly))
	}
	fmt.Printf("\nProperties (%d):\n", len(rec.Properties))
	for _, p := range rec.Properties {
		value, err := json.Marshal(p.Value)
		if err != nil {
			value = []byte(fmt.Sprint(p.Value))
		}
		fmt.Printf("  %-32s %-8s %s\n", p.Name, p.SourceType, value)
	}
	return nil
}

func cmdProbe(args []string) error {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	profileArg := fs.String("profile", "desktop", "Built-in profile name or YAML profile path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	name, file := *profileArg, ""
	if ext := path.Ext(name); ext == ".yaml" || ext == ".yml" {
		name, file = "", *profileArg
	}
	profile, err := emulator.Resolve(name, file)
	if err != nil {
		return err
	}

	dev := emulator.NewDevice(profile, runloop.NewQueue(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fmt.Printf("Device: %s\n", profile.Name)
	var chosen xr.Mode
	for _, s := range xr.Survey(ctx, dev) {
		state := "no"
		switch {
		case s.Err != nil:
			state = "error: " + s.Err.Error()
		case s.Supported:
			state = "yes"
			if chosen == "" {
				chosen = s.Mode
			}
		}
		fmt.Printf("  %-14s %s\n", s.Mode, state)
	}
	if chosen == "" {
		fmt.Println("Entering XR: unavailable")
		return nil
	}
	features := xr.FeaturesFor(chosen)
	fmt.Printf("Entering XR: %s (required %v, optional %v)\n", chosen, features.Required, features.Optional)
	return nil
}

func cmdProfiles() {
	for _, name := range emulator.BuiltinNames() {
		p, _ := emulator.Builtin(name)
		fmt.Printf("%-12s modes %v features %v\n", name, p.Modes, p.Features)
	}
}

func cmdConfig(args []string) error {
	cfg := config.Default()
	if len(args) == 0 {
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Println("Wrote", filepath.Join(config.ConfigDir(), "config.yaml"))
		return nil
	}
	if err := cfg.SaveTo(args[0]); err != nil {
		return err
	}
	fmt.Println("Wrote", args[0])
	return nil
}
