// PlugForge
//
// A supervised build pipeline that turns plain-language requests into
// complete Minecraft server plugins: plan, approve, generate, review.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "plugforge",
	Short: "PlugForge - Minecraft Plugin Builder",
	Long: `PlugForge turns plain-language requests into complete Minecraft server
plugins through a supervised build pipeline: plan, approve, generate, review.

  plugforge serve                                  Start the server
  plugforge run "a homes plugin with /sethome"     Start a build and follow it
  plugforge list --session <id>                    List a session's builds
  plugforge status <build-id>                      Check build status
  plugforge logs <build-id>                        Stream build events
  plugforge config set KEY VALUE                   Manage configuration`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("PLUGFORGE_SERVER", "http://localhost:7090"), "PlugForge server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
