package cmd

import (
	"CalmFM/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动CalmFM服务器",
	Long:  `启动CalmFM的HTTP服务器，提供曲目生成、收藏、播放记录API以及实时推送。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
