package logger

import (
	"runtime"
	"strings"
)

type PackageNameResolver struct {
	BasePackage string
	Depth       int
}

// PackageName returns the package path of the caller relative to BasePackage,
// ie "pool" for github.com/alphabill-org/stakepool/pool.
func (r *PackageNameResolver) PackageName() string {
	pc, _, _, _ := runtime.Caller(r.depth())
	pcName := runtime.FuncForPC(pc).Name()
	split1 := strings.SplitN(pcName, r.BasePackage, 2)
	var packageAfterBase string
	if len(split1) < 2 {
		packageAfterBase = split1[0]
	} else {
		packageAfterBase = split1[1]
	}
	// strip function (and receiver) name
	if i := strings.LastIndex(packageAfterBase, "/"); i >= 0 {
		if j := strings.Index(packageAfterBase[i:], "."); j >= 0 {
			packageAfterBase = packageAfterBase[:i+j]
		}
	} else if j := strings.Index(packageAfterBase, "."); j >= 0 {
		packageAfterBase = packageAfterBase[:j]
	}
	return strings.Trim(packageAfterBase, "/")
}

func (r *PackageNameResolver) depth() int {
	// 2 because it's used from inside logging code, we want the caller of that
	if r.Depth == 0 {
		return 2
	}
	return r.Depth
}
