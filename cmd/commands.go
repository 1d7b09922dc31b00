package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dargueta/tinyext"
	c "github.com/dargueta/tinyext/file_systems/common"
	"github.com/dargueta/tinyext/file_systems/common/blockcache"
	"github.com/dargueta/tinyext/file_systems/ext2"
	"github.com/dargueta/tinyext/presets"
	"github.com/urfave/cli/v2"
)

const defaultTotalBlocks = 1024

func imagePathArg(context *cli.Context) (string, error) {
	if context.NArg() != 1 {
		return "", cli.Exit(
			fmt.Sprintf("expected exactly one IMAGE argument, got %d", context.NArg()), 2)
	}
	return context.Args().First(), nil
}

func totalBlocksFromFlags(context *cli.Context) (uint, error) {
	if context.IsSet("size") && context.IsSet("preset") {
		return 0, cli.Exit("--size and --preset can't be used together", 2)
	}
	if context.IsSet("preset") {
		preset, err := presets.Get(context.String("preset"))
		if err != nil {
			return 0, err
		}
		return preset.TotalBlocks, nil
	}
	if context.IsSet("size") {
		return context.Uint("size"), nil
	}
	return defaultTotalBlocks, nil
}

// openImage opens an existing image file and wraps it in a block cache. The
// file must be a whole number of blocks.
func openImage(path string, flag int) (*os.File, *blockcache.BlockCache, error) {
	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	if info.Size()%ext2.BlockSize != 0 {
		file.Close()
		return nil, nil, tinyext.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"%s: size %d isn't a multiple of %d", path, info.Size(), ext2.BlockSize))
	}

	cache := blockcache.WrapStream(file, ext2.BlockSize, uint(info.Size()/ext2.BlockSize))
	return file, cache, nil
}

// resizeImage empties `image` and then extends it with zeroes to `totalBlocks`
// blocks.
func resizeImage(image c.Truncator, totalBlocks uint) error {
	if err := image.Truncate(0); err != nil {
		return tinyext.ErrIOFailed.Wrap(err)
	}
	if err := image.Truncate(int64(totalBlocks) * ext2.BlockSize); err != nil {
		return tinyext.ErrIOFailed.Wrap(err)
	}
	return nil
}

func formatImage(context *cli.Context) error {
	path, err := imagePathArg(context)
	if err != nil {
		return err
	}

	totalBlocks, err := totalBlocksFromFlags(context)
	if err != nil {
		return err
	}
	placement, err := ext2.ParseRootPlacement(context.String("placement"))
	if err != nil {
		return err
	}

	// Reject bad sizes before touching the file.
	if totalBlocks < ext2.MinTotalBlocks || totalBlocks > ext2.MaxTotalBlocks {
		return cli.Exit(
			fmt.Sprintf(
				"image size must be between %d and %d blocks, got %d",
				ext2.MinTotalBlocks,
				ext2.MaxTotalBlocks,
				totalBlocks),
			2)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	if err = resizeImage(file, totalBlocks); err != nil {
		return err
	}

	cache := blockcache.WrapStream(file, ext2.BlockSize, totalBlocks)
	result, err := ext2.Format(cache, ext2.FormatOptions{RootPlacement: placement})
	if err != nil {
		return err
	}

	fmt.Printf(
		"Formatted %s: %d blocks, %d free; root directory is inode %d in block %d\n",
		path,
		result.Superblock.BlocksCount,
		result.Superblock.FreeBlocksCount,
		result.RootInode,
		result.RootBlock)
	return file.Sync()
}

func showInfo(context *cli.Context) error {
	path, err := imagePathArg(context)
	if err != nil {
		return err
	}

	file, cache, err := openImage(path, os.O_RDONLY)
	if err != nil {
		return err
	}
	defer file.Close()

	volume, err := ext2.Mount(cache)
	if err != nil {
		return err
	}

	sb := volume.Superblock()
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Magic:\t%#04x\n", sb.Magic)
	fmt.Fprintf(writer, "Block size:\t%d\n", sb.BlockSize)
	fmt.Fprintf(writer, "Blocks:\t%d\n", sb.BlocksCount)
	fmt.Fprintf(writer, "Free blocks:\t%d\n", sb.FreeBlocksCount)
	fmt.Fprintf(writer, "First data block:\t%d\n", sb.FirstDataBlock)
	fmt.Fprintf(writer, "Last allocated:\t%d\n", sb.LastAllocated)
	fmt.Fprintf(writer, "Inodes in use:\t%d\n", sb.InodesCount)
	fmt.Fprintf(writer, "Free inodes:\t%d\n", sb.FreeInodesCount)
	fmt.Fprintf(writer, "Allocatable inodes:\t%d\n", volume.Stat().MaxFiles)

	root, err := volume.ReadRootInode()
	if err != nil {
		return err
	}
	if root.IsDir() {
		fmt.Fprintf(writer, "Root mode:\t%#04x\n", root.Mode)
		used := int(root.BlockCount)
		if used > ext2.NumDirectBlocks {
			used = ext2.NumDirectBlocks
		}
		fmt.Fprintf(writer, "Root blocks:\t%v\n", root.Blocks[:used])
		fmt.Fprintf(writer, "Root created:\t%d\n", root.Ctime)
	} else {
		fmt.Fprintf(writer, "Root:\tmissing (mode %#04x)\n", root.Mode)
	}
	return writer.Flush()
}

func checkImage(context *cli.Context) error {
	path, err := imagePathArg(context)
	if err != nil {
		return err
	}

	file, cache, err := openImage(path, os.O_RDONLY)
	if err != nil {
		return err
	}
	defer file.Close()

	volume, err := ext2.Mount(cache)
	if err != nil {
		return err
	}
	if err = volume.Check(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	fmt.Printf("%s: no problems found\n", path)
	return nil
}

func listPresets(context *cli.Context) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "SLUG\tBLOCKS\tNAME\tNOTES")
	for _, preset := range presets.All() {
		fmt.Fprintf(
			writer, "%s\t%d\t%s\t%s\n", preset.Slug, preset.TotalBlocks, preset.Name, preset.Notes)
	}
	return writer.Flush()
}
