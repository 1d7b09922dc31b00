package main

import (
	"log"
	"os"

	"github.com/dargueta/tinyext/utilities/logging"
	"github.com/urfave/cli/v2"
)

func main() {
	cli := cli.App{
		Name:  "tinyext",
		Usage: "Create and inspect tinyext disk images",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "debug log level; 0 disables debug output",
				EnvVars: []string{"TINYEXT_DEBUG"},
			},
		},
		Before: func(context *cli.Context) error {
			logging.SetLevel(context.Uint64("verbose"))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Create or wipe an image",
				Action:    formatImage,
				ArgsUsage: "IMAGE",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:    "size",
						Usage:   "image size in 1 KiB blocks",
						EnvVars: []string{"TINYEXT_SIZE"},
					},
					&cli.StringFlag{
						Name:  "preset",
						Usage: "use a predefined image size (see the `presets` command)",
					},
					&cli.StringFlag{
						Name:  "placement",
						Usage: "where to store the root inode: both, data, or table",
						Value: "both",
					},
				},
			},
			{
				Name:      "info",
				Usage:     "Show the superblock and root directory of an image",
				Action:    showInfo,
				ArgsUsage: "IMAGE",
			},
			{
				Name:      "check",
				Usage:     "Verify the superblock counters against the bitmaps",
				Action:    checkImage,
				ArgsUsage: "IMAGE",
			},
			{
				Name:   "presets",
				Usage:  "List predefined image sizes",
				Action: listPresets,
			},
		},
	}

	err := cli.Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}
