package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"CalmFM/storage"

	"github.com/spf13/cobra"
)

var (
	minioTrack  string
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "生成报告存储管理",
	Long:  `查看MinIO中的生成报告：默认显示统计信息，--track 打印单个曲目的报告，配合 --delete 删除该报告。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		ctx := cmd.Context()
		store, err := storage.NewReportStore(ctx, cfg)
		if err != nil {
			return err
		}

		if minioTrack == "" {
			if minioDelete {
				return errors.New("--delete requires --track")
			}
			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("\n存储桶: %s\n", store.Bucket())
			fmt.Printf("报告数量: %d\n", stats.Objects)
			fmt.Printf("总大小: %s\n", storage.FormatSize(stats.TotalSize))
			if stats.Objects > 0 {
				fmt.Printf("最近更新: %s\n", stats.Latest.Format("2006-01-02 15:04:05"))
			}
			return nil
		}

		if minioDelete {
			if err := store.DeleteReport(ctx, minioTrack); err != nil {
				return err
			}
			fmt.Printf("已删除报告: %s\n", minioTrack)
			return nil
		}

		report, err := store.GetReport(ctx, minioTrack)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	minioCmd.Flags().StringVarP(&minioTrack, "track", "t", "", "曲目ID")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定曲目的报告")
	rootCmd.AddCommand(minioCmd)
}
