package storage

var ReplayVersionWrite = replayVersionWrite
