// Package docker reads host ports published by running containers.
//
// Containers whose ports are forwarded by iptables rather than the Docker
// userland proxy never show up in netstat, so the port scanner can consult
// this package as a supplementary source. The client detects the Docker
// socket automatically and negotiates the API version with the daemon.
package docker
