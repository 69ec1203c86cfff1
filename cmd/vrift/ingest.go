// Copyright 2026 The Velo Rift Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/velo-rift/vrift/internal/cas"
	"github.com/velo-rift/vrift/internal/logger"
	"github.com/velo-rift/vrift/internal/manifest"
	"github.com/velo-rift/vrift/internal/protocol"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <source-dir> <virtual-prefix>",
	Short: "Walk a directory and publish it into the virtual filesystem",
	Args:  cobra.ExactArgs(2),
	RunE:  runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	sourceDir, virtualPrefix := args[0], args[1]

	store, err := cas.Open(string(config.CasRoot))
	if err != nil {
		return fmt.Errorf("opening cas root: %w", err)
	}

	client, err := dialDaemon(string(config.SocketPath))
	if err != nil {
		return err
	}
	defer client.Close()

	var count int
	err = filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		virtualPath := manifest.Canonicalize(filepath.Join(virtualPrefix, rel))
		if rel == "." {
			virtualPath = manifest.Canonicalize(virtualPrefix)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if d.IsDir() {
			return upsertDir(client, virtualPath, info)
		}
		if !d.Type().IsRegular() {
			logger.Warnf("ingest: skipping non-regular file %s", path)
			return nil
		}
		if err := ingestFile(store, client, path, virtualPath, info); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return err
	}

	logger.Infof("ingest: published %d file(s) under %s", count, virtualPrefix)
	return nil
}

func upsertDir(client *cliClient, virtualPath string, info fs.FileInfo) error {
	resp, err := client.roundTrip(&protocol.Envelope{
		Kind: protocol.KindManifestUpsert,
		ManifestUpsert: &protocol.ManifestUpsertRequest{
			Path:  virtualPath,
			Entry: manifest.DirEntry(uint64(info.ModTime().Unix()), uint32(info.Mode().Perm())),
		},
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("manifest upsert %s: %s", virtualPath, resp.Err)
	}
	return nil
}

func ingestFile(store *cas.Store, client *cliClient, srcPath, virtualPath string, info fs.FileInfo) error {
	b, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}
	digest, err := store.Put(b)
	if err != nil {
		return fmt.Errorf("cas put %s: %w", srcPath, err)
	}

	resp, err := client.roundTrip(&protocol.Envelope{
		Kind: protocol.KindCasInsert,
		CasInsert: &protocol.CasInsertRequest{
			Digest: digest,
			Size:   uint64(len(b)),
		},
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("cas insert %s: %s", srcPath, resp.Err)
	}

	resp, err = client.roundTrip(&protocol.Envelope{
		Kind: protocol.KindManifestUpsert,
		ManifestUpsert: &protocol.ManifestUpsertRequest{
			Path: virtualPath,
			Entry: manifest.FileEntry(
				digest,
				uint64(len(b)),
				uint64(info.ModTime().Unix()),
				uint32(info.Mode().Perm()),
			),
		},
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("manifest upsert %s: %s", virtualPath, resp.Err)
	}
	return nil
}
