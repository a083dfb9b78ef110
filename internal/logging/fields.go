package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// CacheFields 为瓦片缓存诊断日志提供 action + identifier 字段。
func CacheFields(action, identifier string) logrus.Fields {
	fields := logrus.Fields{"action": action, "component": "cache"}
	if identifier != "" {
		fields["identifier"] = identifier
	}
	return fields
}

// RequestFields 提供管理接口请求日志的公共字段。
func RequestFields(requestID, method, path string, status int, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"action":     "admin_request",
		"component":  "admin",
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"status":     status,
		"cache_hit":  cacheHit,
	}
}
