package storage

import "errors"

// LockFileName 是存放于缓存根目录下的单写者锁文件。
const LockFileName = ".lock"

// ErrLocked 表示另一个进程已经持有缓存目录的写锁。
var ErrLocked = errors.New("cache directory is locked by another process")

// FileLock 持有缓存目录的独占锁，Release 之后方可由其他进程打开。
type FileLock struct {
	release func() error
}

// Release 释放锁；重复调用安全。
func (l *FileLock) Release() error {
	if l == nil || l.release == nil {
		return nil
	}
	release := l.release
	l.release = nil
	return release()
}
