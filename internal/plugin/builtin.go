package plugin

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// builtinPlugin 提供时间与系统信息两条命令，同时作为编写新插件的样板。
type builtinPlugin struct{}

// NewBuiltinPlugin 创建内置示例插件。
func NewBuiltinPlugin() Plugin {
	return &builtinPlugin{}
}

func (p *builtinPlugin) Name() string { return "builtin" }
func (p *builtinPlugin) Description() string { return "内置插件，提供时间与系统信息命令" }

func (p *builtinPlugin) Initialize() error { return nil }

func (p *builtinPlugin) Commands() []Command {
	return []Command{
		{
			Trigger:     "time",
			Description: "获取当前时间",
			Handler:     handleTime,
		},
		{
			Trigger:     "system info",
			Description: "获取主机系统信息",
			Handler:     handleSystemInfo,
		},
	}
}

func handleTime(ctx context.Context, message string) (*Result, error) {
	now := time.Now()
	return &Result{
		Type:    "time",
		Message: fmt.Sprintf("The current time is %s", now.Format("15:04:05")),
		Data: map[string]any{
			"time": now.Format("15:04:05"),
			"date": now.Format("2006-01-02"),
		},
	}, nil
}

func handleSystemInfo(ctx context.Context, message string) (*Result, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取主机信息失败: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取内存信息失败: %w", err)
	}

	const gb = 1024 * 1024 * 1024
	return &Result{
		Type: "system",
		Message: fmt.Sprintf("%s/%s, %d CPUs, %.2f GB free of %.2f GB",
			info.Platform, runtime.GOARCH, runtime.NumCPU(),
			float64(vm.Available)/gb, float64(vm.Total)/gb),
		Data: map[string]any{
			"platform": info.Platform,
			"arch":     runtime.GOARCH,
			"cpus":     runtime.NumCPU(),
			"totalMem": fmt.Sprintf("%.2f GB", float64(vm.Total)/gb),
			"freeMem":  fmt.Sprintf("%.2f GB", float64(vm.Available)/gb),
			"uptime":   fmt.Sprintf("%.2f hours", float64(info.Uptime)/3600),
		},
	}, nil
}
