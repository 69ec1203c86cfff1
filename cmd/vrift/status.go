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

	"github.com/spf13/cobra"
	"github.com/velo-rift/vrift/internal/protocol"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the running daemon's blob and manifest counts",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := dialDaemon(string(config.SocketPath))
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.roundTrip(&protocol.Envelope{
		Kind:   protocol.KindStatus,
		Status: &protocol.StatusRequest{},
	})
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("status: %s", resp.Err)
	}

	ack := resp.Status
	fmt.Printf("blobs:     %d (%d bytes)\n", ack.BlobCount, ack.TotalBytes)
	fmt.Printf("manifest:  %d entries\n", ack.ManifestCount)
	fmt.Printf("journal:   %d in-flight\n", ack.JournalCount)
	return nil
}
