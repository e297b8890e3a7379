// Package artifactcache implements both sides of the actions/cache v1
// protocol: a Handler serving it from a local directory and a Client that
// saves and restores directories against any server speaking it.
//
// Inspired by https://github.com/sp-ricard-valverde/github-act-cache-server
//
// TODO: Restrictions for accessing a cache, see https://docs.github.com/en/actions/using-workflows/caching-dependencies-to-speed-up-workflows#restrictions-for-accessing-a-cache
package artifactcache
