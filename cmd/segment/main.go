// Command segment 点提示分割命令行工具
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/getcharzp/go-pointseg/config"
)

const (
	flagConfig  = "config"
	flagMode    = "mode"
	flagImage   = "image"
	flagPoint   = "point"
	flagOut     = "out"
	flagOutDir  = "out-dir"
	flagClick   = "click"
	flagHover   = "hover"
	flagConfirm = "confirm"
	flagDocID   = "doc"
	flagNoCache = "no-cache"
	flagFont    = "font"
)

type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	a := &app{}

	cliApp := &cli.App{
		Name:  "segment",
		Usage: "SAM2 点提示分割",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "从 `FILE` 加载配置",
			},
			&cli.StringFlag{
				Name:  flagMode,
				Usage: "运行模式 debug|release，覆盖配置文件",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String(flagConfig))
			if err != nil {
				return err
			}
			if c.IsSet(flagMode) {
				cfg.Mode = c.String(flagMode)
			}
			logger, err := config.NewLogger(cfg.Mode)
			if err != nil {
				return fmt.Errorf("初始化日志失败: %w", err)
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
		After: func(c *cli.Context) error {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "point",
				Usage:     "按提示点分割单个对象",
				UsageText: "segment point --image IMG --point 120,80 [--point 60,40,neg] --out mask.png",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagImage, Required: true, Usage: "输入图片"},
					&cli.StringSliceFlag{Name: flagPoint, Required: true, Usage: "提示点 x,y[,neg]，可重复"},
					&cli.StringFlag{Name: flagOut, Value: "mask.png", Usage: "输出 Mask"},
					&cli.StringFlag{Name: flagFont, Usage: "叠加图字体，为空使用内置字体"},
				},
				Action: a.point,
			},
			{
				Name:      "auto",
				Usage:     "网格采样自动分割全图",
				UsageText: "segment auto --image IMG --out-dir masks/",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagImage, Required: true, Usage: "输入图片"},
					&cli.StringFlag{Name: flagOutDir, Value: "masks", Usage: "输出目录"},
					&cli.BoolFlag{Name: flagNoCache, Usage: "不读写 Redis 缓存"},
					&cli.StringFlag{Name: flagFont, Usage: "叠加图字体，为空使用内置字体"},
				},
				Action: a.auto,
			},
			{
				Name:      "select",
				Usage:     "回放交互式选区并保存确认的 Mask",
				UsageText: "segment select --image IMG --click 120,80 --click 60,40,neg --confirm",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagImage, Required: true, Usage: "输入图片"},
					&cli.StringFlag{Name: flagDocID, Usage: "文档 ID，默认使用图片 MD5"},
					&cli.StringSliceFlag{Name: flagClick, Usage: "点击 x,y[,neg]，可重复"},
					&cli.StringFlag{Name: flagHover, Usage: "光标悬停位置 x,y"},
					&cli.BoolFlag{Name: flagConfirm, Usage: "回放结束后确认"},
					&cli.StringFlag{Name: flagOutDir, Value: ".", Usage: "确认后 Mask 的输出目录"},
				},
				Action: a.selectCmd,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
