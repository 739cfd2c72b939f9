package dvcs

import "os"

// authEnvVars are the env vars git reads for commit authoring metadata.
var authEnvVars = []string{
	"GIT_AUTHOR_NAME", "GIT_AUTHOR_EMAIL", "GIT_AUTHOR_DATE",
	"GIT_COMMITTER_NAME", "GIT_COMMITTER_EMAIL", "GIT_COMMITTER_DATE",
}

// AuthorScope is a scoped acquisition of the author/committer env vars
// git reads for the next commit. Callers must defer Release()
// immediately after BeginAuthoring returns, so the environment is
// restored on every exit path including panics. The commit phase stays
// single-threaded precisely so this process-wide state is never shared
// between concurrent commits.
type AuthorScope struct {
	saved map[string]*string // nil means "was unset"
}

// BeginAuthoring sets GIT_AUTHOR_*/GIT_COMMITTER_* for the next commit
// and returns a scope whose Release restores the prior environment.
func BeginAuthoring(name, email, authorDate, committerDate string) *AuthorScope {
	values := map[string]string{
		"GIT_AUTHOR_NAME":     name,
		"GIT_AUTHOR_EMAIL":    email,
		"GIT_AUTHOR_DATE":     authorDate,
		"GIT_COMMITTER_NAME":  name,
		"GIT_COMMITTER_EMAIL": email,
		"GIT_COMMITTER_DATE":  committerDate,
	}
	scope := &AuthorScope{saved: make(map[string]*string, len(authEnvVars))}
	for _, key := range authEnvVars {
		if prior, ok := os.LookupEnv(key); ok {
			p := prior
			scope.saved[key] = &p
		} else {
			scope.saved[key] = nil
		}
		os.Setenv(key, values[key])
	}
	return scope
}

// Release restores the environment to what it was before BeginAuthoring.
// Safe to call even if the caller is unwinding from a panic; callers
// should always `defer scope.Release()`.
func (a *AuthorScope) Release() {
	if a == nil {
		return
	}
	for key, prior := range a.saved {
		if prior == nil {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, *prior)
		}
	}
}
