// Package config 按环境变量装配运行参数，沿用 jvp 里
// New()/getXxx() 这套"优先环境变量，其次合理默认值"的装配方式。
package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config 收拢 qubesd 进程启动所需的一切外部可调参数。每个字段都有对应
// 的 getXxx 辅助函数负责从环境变量读取并给出默认值。
type Config struct {
	// StorePath 是 qubes.xml 所在目录（同目录下还有 qubes.xml.lock）。
	// 可以通过环境变量 QUBESD_STORE_PATH 配置。
	StorePath string

	// AdminSocketPath 是 Admin API 监听的 UNIX socket 路径。
	// 可以通过环境变量 QUBESD_ADMIN_SOCKET 配置。
	AdminSocketPath string

	// DebugAddr 是只读调试 HTTP 接口的监听地址；为空时不启动该接口。
	// 可以通过环境变量 QUBESD_DEBUG_ADDR 配置。
	DebugAddr string

	// LogDir 是日志文件目录；为空时只写 stderr。
	// 可以通过环境变量 QUBESD_LOG_DIR 配置。
	LogDir string

	// PolicyDir 是 qrexec 策略文件目录（*.policy），
	// admin-permission 扩展从这里加载规则。
	// 可以通过环境变量 QUBESD_POLICY_DIR 配置。
	PolicyDir string

	// Offline 为 true 时不连接 hypervisor，只服务持久化存储读写
	// （qubesd-repair 和部分测试场景用）。
	// 可以通过环境变量 QUBESD_OFFLINE 配置（"1"/"true"）。
	Offline bool

	// TestMode 为 true 时使用内存态 hypervisor/qubesdb 替身而不是真实
	// 连接，供集成测试和本地开发使用。
	// 可以通过环境变量 QUBESD_TEST_MODE 配置（"1"/"true"）。
	TestMode bool
}

// New 按环境变量装配一份 Config，所有字段都有默认值，永不返回 error——
// 保留这个签名只是为了跟调用方（main.go）将来可能需要的校验对齐。
func New() (*Config, error) {
	cfg := &Config{
		StorePath:       getStorePath(),
		AdminSocketPath: getAdminSocketPath(),
		DebugAddr:       getDebugAddr(),
		LogDir:          getLogDir(),
		PolicyDir:       getPolicyDir(),
		Offline:         getBoolEnv("QUBESD_OFFLINE", false),
		TestMode:        getBoolEnv("QUBESD_TEST_MODE", false),
	}
	return cfg, nil
}

// getStorePath 获取 qubes.xml 所在目录，优先使用环境变量。
func getStorePath() string {
	if dir := os.Getenv("QUBESD_STORE_PATH"); dir != "" {
		return dir
	}
	return "/var/lib/qubes"
}

// getAdminSocketPath 获取 Admin API socket 路径，优先使用环境变量。
func getAdminSocketPath() string {
	if p := os.Getenv("QUBESD_ADMIN_SOCKET"); p != "" {
		return p
	}
	return "/var/run/qubesd.sock"
}

// getDebugAddr 获取调试 HTTP 接口的监听地址，优先使用环境变量。
// 空字符串表示不启动调试接口。
func getDebugAddr() string {
	return os.Getenv("QUBESD_DEBUG_ADDR")
}

// getLogDir 获取日志目录，优先使用环境变量；取不到主目录时落回当前
// 目录下的 log 子目录。
func getLogDir() string {
	if dir := os.Getenv("QUBESD_LOG_DIR"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "qubesd", "log")
	}
	return filepath.Join(".", "log")
}

// getPolicyDir 获取 qrexec 策略文件目录，优先使用环境变量。
func getPolicyDir() string {
	if dir := os.Getenv("QUBESD_POLICY_DIR"); dir != "" {
		return dir
	}
	return "/etc/qubes/policy.d"
}

// getBoolEnv 解析一个布尔型环境变量，解析失败或未设置时返回 def。
func getBoolEnv(name string, def bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
