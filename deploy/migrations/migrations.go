package migrations

import "embed"

// Files 按文件名顺序暴露全部 SQL 迁移脚本，
// 报告档案与认证存储共用同一套迁移。
//
//go:embed *.sql
var Files embed.FS
